package domain

import "testing"

func TestSessionStatusKnown(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		known    bool
		terminal bool
	}{
		{status: SessionStatusOpen, known: true},
		{status: SessionStatusPaid, known: true, terminal: true},
		{status: SessionStatusUnpaid, known: true},
		{status: SessionStatusCanceled, known: true, terminal: true},
		{status: SessionStatus("no_payment_required")},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Known(); got != tc.known {
				t.Fatalf("Known() = %v, want %v", got, tc.known)
			}
			if got := tc.status.Terminal(); got != tc.terminal {
				t.Fatalf("Terminal() = %v, want %v", got, tc.terminal)
			}
		})
	}
}

func TestUIModeValid(t *testing.T) {
	if !UIModeEmbedded.Valid() || !UIModeHosted.Valid() {
		t.Fatal("expected built-in modes to be valid")
	}
	if UIMode("popup").Valid() {
		t.Fatal("unexpected valid mode")
	}
}

func TestCheckoutSessionUserID(t *testing.T) {
	session := CheckoutSession{Metadata: map[string]string{MetadataUserID: "user-7"}}
	if session.UserID() != "user-7" {
		t.Fatalf("unexpected user id %q", session.UserID())
	}
	if (CheckoutSession{}).UserID() != "" {
		t.Fatal("expected empty user id for session without metadata")
	}
}
