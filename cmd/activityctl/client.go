package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient(api, token string) *resty.Client {
	c := resty.New().
		SetBaseURL(api).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

func runList(api, token string, params map[string]string, out io.Writer) error {
	resp, err := newClient(api, token).R().
		SetQueryParams(params).
		Get("/api/activities")
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runSearch(api, token, query string, out io.Writer) error {
	resp, err := newClient(api, token).R().
		SetQueryParam("q", query).
		Get("/api/activities/search")
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

type createBody struct {
	Type             string `json:"type"`
	Status           string `json:"status,omitempty"`
	Description      string `json:"description,omitempty"`
	AmountMinorUnits int64  `json:"amountMinorUnits,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Source           string `json:"source,omitempty"`
}

func runCreate(api, token string, body createBody, out io.Writer) error {
	resp, err := newClient(api, token).R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/api/activities")
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

// fixtures cover the common event shapes so a freshly seeded database
// exercises every search dimension.
var fixtures = []createBody{
	{Type: "payment.created", Status: "success", Description: "Pagamento fatura via cartão", AmountMinorUnits: 15000, Currency: "BRL", Source: "card"},
	{Type: "payment.created", Status: "failed", Description: "Pagamento recusado pelo emissor", AmountMinorUnits: 8900, Currency: "BRL", Source: "card"},
	{Type: "payment.captured", Status: "success", Description: "Captura pix", AmountMinorUnits: 20000, Currency: "BRL", Source: "pix"},
	{Type: "refund", Status: "pending", Description: "Estorno em análise", AmountMinorUnits: 5000, Currency: "BRL", Source: "boleto"},
	{Type: "login", Status: "success", Description: "Acesso web", Source: "web"},
	{Type: "subscription.renewed", Status: "success", Description: "Assinatura mensal", AmountMinorUnits: 2990, Currency: "BRL", Source: "wallet"},
	{Type: "transfer", Status: "success", Description: "Transferência TED", AmountMinorUnits: 120000, Currency: "BRL", Source: "api"},
	{Type: "withdrawal", Status: "failed", Description: "Saque negado", AmountMinorUnits: 30000, Currency: "BRL", Source: "mobile"},
	{Type: "document.uploaded", Status: "success", Description: "Documento enviado", Source: "web"},
	{Type: "webhook.delivery_failed", Status: "failed", Description: "Webhook sem resposta", Source: "api"},
}

func runSeed(api, token string, n int, out io.Writer) error {
	client := newClient(api, token)
	for i := 0; i < n; i++ {
		body := fixtures[i%len(fixtures)]
		resp, err := client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/api/activities")
		if err != nil {
			return err
		}
		if resp.StatusCode() != http.StatusCreated {
			return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
		}
	}
	fmt.Fprintf(out, "seeded %d activities\n", n)
	return nil
}

// runTail follows the SSE stream and prints one line per event. A plain
// net/http client is used here: the stream has no end, so a buffered REST
// client response does not fit.
func runTail(ctx context.Context, api, token, query string, out io.Writer) error {
	u := api + "/api/activities/stream"
	if query != "" {
		u += "?q=" + url.QueryEscape(query)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 6 && line[:6] == "data: " {
			fmt.Fprintln(out, line[6:])
		}
	}
	return scanner.Err()
}

func printJSON(out io.Writer, resp *resty.Response) error {
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	var pretty map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &pretty); err != nil {
		_, werr := out.Write(resp.Body())
		return werr
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
