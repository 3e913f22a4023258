package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/services"
)

func TestInteraction_UnknownControl(t *testing.T) {
	hs := newHarness(t)
	w := hs.do(t, call{method: http.MethodPost, path: "/interactions/NOPE-1", user: "3"})
	if w.Code != http.StatusNotFound || errorCode(t, w) != ErrCodeUnknownControl {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestInteraction_OverflowingID(t *testing.T) {
	hs := newHarness(t)
	w := hs.do(t, call{method: http.MethodPost, path: "/interactions/FCRC-ABC01-99999999999999999999", user: "3"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != ErrCodeInvalidInput {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(hs.crs.buttons) != 0 {
		t.Fatalf("buttons=%v", hs.crs.buttons)
	}
}

func TestInteraction_ChangeRequestButton(t *testing.T) {
	hs := newHarness(t)
	w := hs.do(t, call{method: http.MethodPost, path: "/interactions/FCRC-ABC01-1100000000000000000", user: "3"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(hs.crs.buttons) != 1 || hs.crs.buttons[0] != "FCRC/ABC01/1100000000000000000" {
		t.Fatalf("buttons=%v", hs.crs.buttons)
	}
	resp := decode[InteractionResponse](t, w)
	if resp.Message == "" || resp.Vote != nil {
		t.Fatalf("resp=%+v", resp)
	}
	if hs.tracker.events[len(hs.tracker.events)-1] != "interaction" {
		t.Fatalf("events=%v", hs.tracker.events)
	}
}

func TestInteraction_ModCloseNeedsChannel(t *testing.T) {
	hs := newHarness(t)
	path := "/interactions/" + services.ModCloseCustomID
	if w := hs.do(t, call{method: http.MethodPost, path: path, user: "3", roles: "mod"}); w.Code != http.StatusBadRequest {
		t.Fatalf("no channel: %d", w.Code)
	}
	w := hs.do(t, call{method: http.MethodPost, path: path, user: "3", roles: "mod", body: InteractionRequest{ChannelID: 88}})
	if w.Code != http.StatusOK || len(hs.crs.closed) != 1 || hs.crs.closed[0] != 88 {
		t.Fatalf("status=%d closed=%v", w.Code, hs.crs.closed)
	}
}

func TestInteraction_VoteSelect(t *testing.T) {
	hs := newHarness(t)
	var gotMsg int64
	var gotValue float64
	hs.flow.vote = func(messageID, _ int64, value float64) (*services.VoteResult, error) {
		gotMsg, gotValue = messageID, value
		return &services.VoteResult{ThreadID: 1}, nil
	}
	path := "/interactions/" + services.VoteCustomID(555)

	if w := hs.do(t, call{method: http.MethodPost, path: path, user: "3"}); w.Code != http.StatusBadRequest {
		t.Fatalf("no values: %d", w.Code)
	}

	w := hs.do(t, call{method: http.MethodPost, path: path, user: "3", body: InteractionRequest{Values: []string{"Very Hard"}}})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	want, _ := domain.DifficultyMidpoint("Very Hard")
	if gotMsg != 555 || gotValue != want {
		t.Fatalf("vote(%d, %v)", gotMsg, gotValue)
	}
	if resp := decode[InteractionResponse](t, w); resp.Vote == nil || resp.Vote.ThreadID != 1 {
		t.Fatalf("resp=%+v", resp)
	}

	w = hs.do(t, call{method: http.MethodPost, path: path, user: "3", body: InteractionRequest{Values: []string{"7.5"}}})
	if w.Code != http.StatusOK || gotValue != 7.5 {
		t.Fatalf("numeric option: %d %v", w.Code, gotValue)
	}
}
