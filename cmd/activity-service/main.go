package main

import (
	"os"

	"github.com/ledgerline/activity-service/activityservice"
)

func main() {
	if err := activityservice.Run(); err != nil {
		os.Exit(1)
	}
}
