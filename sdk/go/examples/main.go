package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"OpenMCP-EVM/sdk/go/evmagent"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "agent API base URL")
	text := flag.String("text", "Airdrop 0.01 ETH to https://pastebin.com/raw/c50biAqr on sepolia", "message for the agent")
	flag.Parse()

	client, err := evmagent.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	actions, err := client.Actions(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, a := range actions {
		fmt.Printf("action %s %v: %s\n", a.Name, a.Similes, a.Description)
	}

	msg, err := client.SubmitMessage(ctx, evmagent.Submission{UserID: "sdk-example", Text: *text})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted message %s (status=%s)\n", msg.ID, msg.Status)

	done, err := client.WaitForMessage(ctx, msg.ID, 2*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if done.Result != nil {
		fmt.Println(done.Result.Text)
	}
	if hash := done.TransactionHash(); hash != "" {
		fmt.Printf("transaction %s\n", hash)
	}
}
