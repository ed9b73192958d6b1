// Package ragdex provides a Go client for the ragdex retrieval-augmented
// generation service.
//
//	client := ragdex.New("http://localhost:8080", ragdex.WithAPIKey("secret"))
//
//	res, _ := client.Upload(ctx, "notes.txt", "text/plain", file)
//	_, _ = client.Sync(ctx, ragdex.SyncOptions{DocID: res.DocID})
//
//	answer, _ := client.Chat(ctx, ragdex.ChatRequest{
//	    Question:   "what is the filing deadline?",
//	    SearchType: "mmr",
//	})
//	for _, c := range answer.Citations {
//	    fmt.Println(c.DocID, c.Snippet)
//	}
//
// Streaming delivers tokens as they are generated:
//
//	answer, _ = client.ChatStream(ctx, req, func(delta string) error {
//	    fmt.Print(delta)
//	    return nil
//	})
package ragdex
