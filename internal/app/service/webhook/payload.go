package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type payload struct {
	ID          flexID     `json:"id"`
	Type        string     `json:"type"`
	Topic       string     `json:"topic"`
	Action      string     `json:"action"`
	LiveMode    bool       `json:"live_mode"`
	DateCreated *time.Time `json:"date_created"`
	Data        struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

func (p *payload) rawType() string {
	if t := strings.TrimSpace(p.Type); t != "" {
		return t
	}
	return strings.TrimSpace(p.Topic)
}

// eventID is the body id, or type:action:data.id when the body has none.
func (p *payload) eventID() string {
	if p.ID != "" {
		return string(p.ID)
	}
	if p.Data.ID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", p.rawType(), p.Action, p.Data.ID)
}

// resourceID is the id of the gateway resource the notification refers to.
// Topic style notifications carry it in the top-level id.
func (p *payload) resourceID() string {
	if p.Data.ID != "" {
		return string(p.Data.ID)
	}
	if p.Type == "" && p.Topic != "" {
		return string(p.ID)
	}
	return ""
}
