//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the borrow API.
//
// Usage:
//
//	JWT_SECRET=<secret> go run ./scripts/concurrency_test.go <book_id> <student1_id> [student2_id ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<uuid>  STUDENT_IDS=<uuid1>,<uuid2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Mints a student token per id and fires one self-borrow per student at the same book simultaneously.
//  2. Prints how many were issued vs. rejected as unavailable.
//  3. Reads the book back and checks that available_copies never went negative.
//
// Prerequisites:
//   - Server must be running with the same JWT_SECRET.
//   - The book and the students must exist in the DB.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"circulation/internal/auth"
	"circulation/internal/models"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	StudentID  string
	StatusCode int
	Code       string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_URL")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}
	secret := []byte(os.Getenv("JWT_SECRET"))
	if len(secret) == 0 {
		log.Fatal("JWT_SECRET must be set to the server's signing secret")
	}

	bookID := os.Getenv("BOOK_ID")
	var studentIDs []string
	if env := os.Getenv("STUDENT_IDS"); env != "" {
		studentIDs = strings.Split(env, ",")
	}
	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		studentIDs = args[1:]
	}
	if bookID == "" || len(studentIDs) == 0 {
		log.Fatal("Usage: BOOK_ID=<uuid> STUDENT_IDS=<s1,s2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <student1_id> [student2_id ...]")
	}

	tokens := make([]string, len(studentIDs))
	for i, sid := range studentIDs {
		id, err := uuid.Parse(strings.TrimSpace(sid))
		if err != nil {
			log.Fatalf("bad student id %q: %v", sid, err)
		}
		tokens[i], err = auth.IssueToken(secret, models.Principal{SubjectID: id, Role: models.RoleStudent}, time.Hour, time.Now())
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server   : %s\n", serverAddr)
	fmt.Printf("Book     : %s\n", bookID)
	fmt.Printf("Students : %d\n\n", len(studentIDs))

	results := make([]borrowResult, len(studentIDs))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range studentIDs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, tokens[idx])
			results[idx].StudentID = strings.TrimSpace(studentIDs[idx])
		}(i)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()
	fmt.Println("All requests completed.")

	var issued, unavailable, other int
	for _, r := range results {
		switch {
		case r.Err != nil:
			other++
			fmt.Printf("  [ERR ] student=%-38s err=%v\n", r.StudentID, r.Err)
		case r.StatusCode == http.StatusCreated:
			issued++
			fmt.Printf("  [OK  ] student=%-38s status=%d\n", r.StudentID, r.StatusCode)
		case r.Code == "UNAVAILABLE":
			unavailable++
			fmt.Printf("  [FULL] student=%-38s status=%d\n", r.StudentID, r.StatusCode)
		default:
			other++
			fmt.Printf("  [FAIL] student=%-38s status=%d code=%s\n", r.StudentID, r.StatusCode, r.Code)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Issued      : %d\n", issued)
	fmt.Printf("Unavailable : %d\n", unavailable)
	fmt.Printf("Other       : %d\n", other)

	avail, err := fetchAvailable(serverAddr, bookID, tokens[0])
	if err != nil {
		log.Fatalf("read book: %v", err)
	}
	fmt.Printf("\n--- Invariant Check ---\n")
	fmt.Printf("available_copies now: %d\n", avail)
	if avail < 0 {
		fmt.Println("[FAIL] available_copies went negative")
		os.Exit(1)
	}
	if other > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed unexpectedly; check server logs.\n", other)
		os.Exit(1)
	}
}

func attemptBorrow(serverAddr, bookID, token string) borrowResult {
	body := fmt.Sprintf(`{"book_id":"%s"}`, bookID)
	req, err := http.NewRequest(http.MethodPost, serverAddr+"/api/borrow/self", bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}
	return borrowResult{StatusCode: resp.StatusCode, Code: parsed.Code}
}

func fetchAvailable(serverAddr, bookID, token string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, serverAddr+"/api/books/"+bookID, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var book struct {
		AvailableCopies int `json:"available_copies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return 0, err
	}
	return book.AvailableCopies, nil
}
