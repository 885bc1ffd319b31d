package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lukasbauer/callguard/internal/httpapi"
)

func runToken(out io.Writer, secret, subject, ttl string) error {
	if secret == "" {
		return errors.New("OPERATOR_JWT_SECRET is not set")
	}
	d, err := time.ParseDuration(ttl)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid --ttl %q", ttl)
	}
	token, err := httpapi.IssueOperatorToken(secret, subject, d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
