// Command token mints a bearer token for local development against the API.
//
//	JWT_SECRET=... go run ./cmd/token -sub <user-uuid> -role Student
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"circulation/internal/auth"
	"circulation/internal/models"
)

func main() {
	sub := flag.String("sub", "", "user id the token is issued for")
	role := flag.String("role", string(models.RoleStudent), "Administrator or Student")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if len(secret) < 16 {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set (at least 16 characters)")
		os.Exit(2)
	}
	id, err := uuid.Parse(*sub)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-sub must be a uuid")
		os.Exit(2)
	}
	r := models.Role(*role)
	if r != models.RoleAdministrator && r != models.RoleStudent {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	tok, err := auth.IssueToken([]byte(secret), models.Principal{SubjectID: id, Role: r}, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
