package models

import (
	"errors"
	"strings"
	"time"
)

// Company is an entry of the company directory. Only companies present in the
// directory can be analyzed.
type Company struct {
	ID        string    `json:"company_id"`
	Name      string    `json:"company_name"`
	CreatedAt time.Time `json:"created_at"`
	States    []string  `json:"states,omitempty"` // service-area states, sorted
}

// Validate checks that all company fields are valid.
func (c *Company) Validate() error {
	if c.ID == "" {
		return errors.New("company ID must not be empty")
	}
	if strings.ContainsAny(c.ID, "|\n") {
		return errors.New("company ID must not contain '|' or newlines")
	}
	if c.Name == "" {
		return errors.New("company name must not be empty")
	}
	for _, state := range c.States {
		if strings.TrimSpace(state) == "" {
			return errors.New("company states must not be empty")
		}
	}
	if c.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
