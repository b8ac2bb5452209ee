package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	session := NewSession(ChannelWeb, "en")

	if session.ID == "" {
		t.Error("Expected generated session ID")
	}

	if session.Channel != ChannelWeb {
		t.Errorf("Expected channel %s, got %s", ChannelWeb, session.Channel)
	}

	if session.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, session.Status)
	}

	if session.TurnCount != 0 {
		t.Errorf("Expected zero turns, got %d", session.TurnCount)
	}

	other := NewSession(ChannelWeb, "en")
	if other.ID == session.ID {
		t.Error("Expected distinct session IDs")
	}
}

func TestSessionWithID(t *testing.T) {
	session := NewSessionWithID("tg-42", ChannelTelegram, "ru")

	if session.ID != "tg-42" {
		t.Errorf("Expected ID tg-42, got %s", session.ID)
	}

	if session.Language != "ru" {
		t.Errorf("Expected language ru, got %s", session.Language)
	}
}

func TestRecordTurn(t *testing.T) {
	session := NewSession(ChannelTelegram, "ru")
	originalExpiresAt := session.ExpiresAt

	time.Sleep(10 * time.Millisecond)
	session.RecordTurn()
	session.RecordTurn()

	if session.TurnCount != 2 {
		t.Errorf("Expected 2 turns, got %d", session.TurnCount)
	}

	if !session.ExpiresAt.After(originalExpiresAt) {
		t.Error("ExpiresAt should be extended")
	}
}

func TestSessionExpiration(t *testing.T) {
	session := NewSession(ChannelWeb, "en")

	if session.IsExpired() {
		t.Error("Session should not be expired initially")
	}

	session.ExpiresAt = time.Now().Add(-1 * time.Hour)
	if !session.IsExpired() {
		t.Error("Session should be expired when ExpiresAt is in the past")
	}

	session.ExpiresAt = time.Now().Add(1 * time.Hour)
	session.Terminate()
	if !session.IsExpired() {
		t.Error("Session should be expired when status is terminated")
	}
}

func TestSessionValidation(t *testing.T) {
	session := NewSession(ChannelWebSocket, "en")
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}

	session.ID = ""
	if err := session.Validate(); err == nil {
		t.Error("Session with empty ID should have validation error")
	}

	session.ID = "abc"
	session.Channel = Channel("fax")
	if err := session.Validate(); err == nil {
		t.Error("Session with unknown channel should have validation error")
	}

	session.Channel = ChannelWeb
	session.Status = SessionStatus("invalid")
	if err := session.Validate(); err == nil {
		t.Error("Session with invalid status should have validation error")
	}
}

func TestUpdateLastActive(t *testing.T) {
	session := NewSession(ChannelWeb, "en")
	originalLastActive := session.LastActiveAt

	time.Sleep(10 * time.Millisecond)

	session.UpdateLastActive()

	if !session.LastActiveAt.After(originalLastActive) {
		t.Error("LastActiveAt should be updated to a later time")
	}

	expectedExpiration := session.LastActiveAt.Add(DefaultSessionTTL)
	if session.ExpiresAt.Sub(expectedExpiration).Abs() > time.Second {
		t.Error("ExpiresAt should be one TTL from LastActiveAt")
	}

	if session.IdleFor() > time.Second {
		t.Errorf("Expected fresh session, idle for %s", session.IdleFor())
	}
}

func TestRenew(t *testing.T) {
	session := NewSessionWithID("tg-42", ChannelTelegram, "ru")
	session.ExpiresAt = time.Now().Add(-time.Minute)
	session.Expire()

	session.Renew()

	if session.IsExpired() {
		t.Error("Renewed session should not be expired")
	}
	if session.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, session.Status)
	}
}
