package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNextVoteState_Transitions(t *testing.T) {
	tests := []struct {
		current VoteDirection
		cast    VoteDirection
		want    VoteDirection
	}{
		{VoteNone, VoteUp, VoteUp},
		{VoteNone, VoteDown, VoteDown},
		{VoteUp, VoteUp, VoteNone},
		{VoteUp, VoteDown, VoteDown},
		{VoteDown, VoteDown, VoteNone},
		{VoteDown, VoteUp, VoteUp},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.current, tt.cast), func(t *testing.T) {
			if got := NextVoteState(tt.current, tt.cast); got != tt.want {
				t.Errorf("NextVoteState(%s, %s) = %s, want %s", tt.current, tt.cast, got, tt.want)
			}
		})
	}
}

func TestVoteDirection_IsCastable(t *testing.T) {
	if !VoteUp.IsCastable() || !VoteDown.IsCastable() {
		t.Error("up/down should be castable")
	}
	for _, d := range []VoteDirection{VoteNone, "", "sideways", "UP"} {
		if d.IsCastable() {
			t.Errorf("%q should not be castable", d)
		}
	}
}

func TestNewScore(t *testing.T) {
	s := NewScore(3, 5)
	if s.Value != -2 || s.Up != 3 || s.Down != 5 {
		t.Errorf("NewScore(3, 5) = %+v", s)
	}
	if s.Total() != 8 {
		t.Errorf("Total() = %d, want 8", s.Total())
	}
}

func TestPostCursor_Before(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cursor := PostCursor{CreatedAt: base, ID: "m"}

	tests := []struct {
		name string
		post Post
		want bool
	}{
		{"older", Post{ID: "z", CreatedAt: base.Add(-time.Second)}, true},
		{"newer", Post{ID: "a", CreatedAt: base.Add(time.Second)}, false},
		{"same time smaller id", Post{ID: "a", CreatedAt: base}, true},
		{"same time larger id", Post{ID: "z", CreatedAt: base}, false},
		{"same position", Post{ID: "m", CreatedAt: base}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cursor.Before(&tt.post); got != tt.want {
				t.Errorf("Before() = %v, want %v", got, tt.want)
			}
		})
	}

	if !(PostCursor{}).Before(&Post{ID: "x", CreatedAt: base}) {
		t.Error("zero cursor should accept every post")
	}
}

func TestAPIError_UnwrapAndCodes(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("follow: %w", NewUnavailableError("データベース", cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through APIError")
	}
	if !IsRetryable(err) {
		t.Error("expected unavailable error to be retryable")
	}
	if HasCode(err, ErrCodeUserNotFound) {
		t.Error("HasCode matched an unrelated code")
	}
	if IsRetryable(NewSelfFollowError()) {
		t.Error("self follow must not be retryable")
	}
}

func TestProfileUpdate_IsEmpty(t *testing.T) {
	if !(ProfileUpdate{}).IsEmpty() {
		t.Error("zero ProfileUpdate should be empty")
	}
	bio := "hello"
	if (ProfileUpdate{Bio: &bio}).IsEmpty() {
		t.Error("ProfileUpdate with bio should not be empty")
	}
}
