// Package relay moves messages between the companion web application and
// the bot over an AMQP queue. Inbound deliveries are decoded into
// envelopes and dispatched by tag; selected bus events are published back.
package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/genji-bot/internal/domain"
)

// Header names carried on every queue message.
const (
	HeaderType     = "x-type"
	HeaderTestMode = "x-test-mode"
)

// Inbound tags.
const (
	TagPlaytest      = "playtest"
	TagBulkArchive   = "bulk_archive"
	TagBulkUnarchive = "bulk_unarchive"
	TagLegacy        = "legacy"
)

var (
	// ErrMissingType is returned for deliveries without an x-type header.
	ErrMissingType = errors.New("relay: missing x-type header")
	// ErrDecode wraps body decoding failures.
	ErrDecode = errors.New("relay: malformed body")
)

// Envelope is one inbound message.
type Envelope struct {
	ID       string
	Tag      string
	TestMode bool
	Body     []byte
}

// EnvelopeFrom builds an envelope from AMQP headers. Header values arrive
// as loosely typed table entries.
func EnvelopeFrom(id string, headers map[string]any, body []byte) (Envelope, error) {
	tag, _ := headers[HeaderType].(string)
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Envelope{}, ErrMissingType
	}
	return Envelope{ID: id, Tag: tag, TestMode: truthy(headers[HeaderTestMode]), Body: body}, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		t = strings.ToLower(strings.TrimSpace(t))
		return t != "" && t != "0" && t != "false"
	case int32:
		return t != 0
	case int64:
		return t != 0
	}
	return false
}

// MapModel is a map submitted through the companion site.
type MapModel struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Checkpoints  int      `json:"checkpoints"`
	Description  string   `json:"description"`
	GuideURL     string   `json:"guide_url"`
	Gold         float64  `json:"gold"`
	Silver       float64  `json:"silver"`
	Bronze       float64  `json:"bronze"`
	Category     []string `json:"category"`
	Difficulty   string   `json:"difficulty"`
	Mechanics    []string `json:"mechanics"`
	Restrictions []string `json:"restrictions"`
}

// Submission converts the model to the workflow's submission type.
func (m MapModel) Submission() (domain.MapSubmission, error) {
	sub := domain.MapSubmission{
		Code:        m.Code,
		Name:        m.Name,
		Checkpoints: m.Checkpoints,
		Description: m.Description,
		Gold:        m.Gold,
		Silver:      m.Silver,
		Bronze:      m.Bronze,
	}
	if m.GuideURL != "" {
		sub.GuideURLs = []string{m.GuideURL}
	}
	if err := sub.SetExtras(m.Category, m.Mechanics, m.Restrictions, m.Difficulty); err != nil {
		return domain.MapSubmission{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return sub, nil
}

// BulkArchiveMapBody is one entry of a bulk archive or unarchive message.
type BulkArchiveMapBody struct {
	MapCode string `json:"map_code"`
}
