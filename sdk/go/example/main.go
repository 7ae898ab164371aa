package main

import (
	"context"
	"fmt"
	"log"
	"time"

	featureflags "github.com/flagforge/platform/sdk/go"
)

func main() {
	config := featureflags.DefaultConfig()
	config.APIKey = "your-api-key-here"
	config.Environment = "production"
	config.BaseURL = "http://localhost:8081"

	client, err := featureflags.NewClient(config)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.WaitForReady(ctx); err != nil {
		log.Printf("client not ready: %v", err)
	}

	user := featureflags.UserContext{
		UserID: "user-123",
		Attributes: map[string]string{
			"plan":    "premium",
			"country": "US",
		},
	}

	showNewFeature := client.EvaluateBoolFlag(ctx, "show_new_feature", user, false)
	fmt.Printf("show_new_feature: %t\n", showNewFeature)

	theme := client.EvaluateStringFlag(ctx, "ui_theme", user, "light")
	fmt.Printf("ui_theme: %s\n", theme)

	maxItems := client.EvaluateIntFlag(ctx, "max_items_per_page", user, 10)
	fmt.Printf("max_items_per_page: %d\n", maxItems)

	result := client.EvaluateFlag(ctx, "show_new_feature", user, false)
	fmt.Printf("detailed result: flag=%s value=%v variant=%s reason=%s\n",
		result.FlagKey, result.Value, result.VariantKey, result.Reason)

	batch := client.EvaluateBatch(ctx, []string{"show_new_feature", "ui_theme"}, user, map[string]any{
		"show_new_feature": false,
		"ui_theme":         "light",
	})
	for key, r := range batch {
		fmt.Printf("batch[%s] = %v (%s)\n", key, r.Value, r.Reason)
	}

	go func() {
		for evt := range client.Subscribe(featureflags.EventConfigUpdated) {
			fmt.Printf("config updated: environment=%s flags=%d\n", evt.Environment, evt.FlagCount)
		}
	}()

	records := client.FlushAnalytics()
	fmt.Printf("flushed %d analytics records\n", len(records))
}
