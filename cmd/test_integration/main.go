package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Plays a short human-only adventure against a running tavern server.
func main() {
	baseURL := os.Getenv("TAVERN_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting smoke test against", baseURL)
	id := "smoke-" + uuid.NewString()[:8]

	fmt.Println("1. Creating adventure...")
	status, ok := sendRequest(baseURL, http.MethodPost, "/adventures", map[string]any{
		"id": id,
		"members": []map[string]string{
			{"name": "Arin", "kind": "human", "class": "warrior"},
			{"name": "Bryn", "kind": "human", "class": "rogue"},
		},
	})
	if !ok {
		fmt.Println("FAILED: Create adventure")
		os.Exit(1)
	}
	fmt.Println("PASSED: Create adventure, active actor", status["active_actor"])

	fmt.Println("2. Playing turns...")
	actors := map[string]bool{}
	for i := 0; i < 6 && len(actors) < 2; i++ {
		actor, _ := status["active_actor"].(string)
		actors[actor] = true
		res, ok := sendRequest(baseURL, http.MethodPost, "/adventures/"+id+"/actions", map[string]any{
			"submission_id": uuid.NewString(),
			"actor_id":      actor,
			"text":          "I look around the cave entrance carefully.",
		})
		if !ok {
			fmt.Println("FAILED: Submit action")
			os.Exit(1)
		}
		if q, ok := res["question"].(string); ok && q != "" {
			fmt.Println("DM asks:", q)
			res, ok = sendRequest(baseURL, http.MethodPost, "/adventures/"+id+"/actions", map[string]any{
				"actor_id": actor,
				"text":     "Just the entrance, nothing else.",
			})
			if !ok {
				fmt.Println("FAILED: Answer clarification")
				os.Exit(1)
			}
		}
		status, _ = res["status"].(map[string]any)
	}
	fmt.Println("PASSED: Play turns")

	fmt.Println("3. Reading history...")
	if _, ok := sendRequest(baseURL, http.MethodGet, "/adventures/"+id+"/events?limit=10", nil); !ok {
		fmt.Println("FAILED: Read events")
		os.Exit(1)
	}
	if _, ok := sendRequest(baseURL, http.MethodGet, "/adventures/"+id+"/memory", nil); !ok {
		fmt.Println("FAILED: Read memory")
		os.Exit(1)
	}
	fmt.Println("PASSED: Read history")
}

func sendRequest(baseURL, method, endpoint string, payload any) (map[string]any, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	fmt.Printf("Response: %s\n", string(respBody))

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return nil, false
	}
	return out, true
}
