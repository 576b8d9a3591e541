// Package domain contains the entities shared between the mail engine and the club data it reads.
package domain

import "strings"

// Recipient is a single addressee of an email.
// ID is empty for ad-hoc addresses that are not backed by a user record.
type Recipient struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Key returns a stable identity for the recipient, preferring the user ID.
func (r Recipient) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// UniqueRecipients removes recipients with duplicate e-mail addresses, keeping the first occurrence.
// Entries without an address are dropped.
func UniqueRecipients(recipients []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(recipients))
	result := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		r.Email = strings.TrimSpace(r.Email)
		result = append(result, r)
	}
	return result
}
