package models

import "testing"

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+254700000001", true},
		{"+14155238886", true},
		{"+1234567", true},
		{"254700000001", false},
		{"+0700000001", false},
		{"+123456", false},
		{"+1234567890123456", false},
		{"+2547 0000 0001", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			err := ValidatePhone(tt.phone)
			if tt.valid && err != nil {
				t.Errorf("ValidatePhone(%q) unexpected error: %v", tt.phone, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidatePhone(%q) expected error", tt.phone)
			}
		})
	}
}

func TestContact_DisplayName(t *testing.T) {
	first, last, blank := "Alice", "Smith", "  "

	tests := []struct {
		name    string
		contact Contact
		want    string
	}{
		{"full name", Contact{Phone: "+254700000001", FirstName: &first, LastName: &last}, "Alice Smith"},
		{"first only", Contact{Phone: "+254700000001", FirstName: &first}, "Alice"},
		{"blank first", Contact{Phone: "+254700000001", FirstName: &blank, LastName: &last}, "Smith"},
		{"no names", Contact{Phone: "+254700000001"}, "+254700000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contact.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageStatus_Rank(t *testing.T) {
	for i := 1; i < len(MessageStatuses); i++ {
		prev, cur := MessageStatuses[i-1], MessageStatuses[i]
		if prev.Rank() >= cur.Rank() {
			t.Errorf("%s (rank %d) should rank below %s (rank %d)", prev, prev.Rank(), cur, cur.Rank())
		}
	}
	if MessageStatus("bogus").Rank() != -1 {
		t.Error("unknown status should rank -1")
	}
}

func TestParseMessageStatus(t *testing.T) {
	if s, ok := ParseMessageStatus("delivered"); !ok || s != MessageStatusDelivered {
		t.Errorf("ParseMessageStatus(delivered) = %q, %v", s, ok)
	}
	if _, ok := ParseMessageStatus("DELIVERED"); ok {
		t.Error("status parsing is case sensitive")
	}
}

func TestMessageStatus_IsTerminal(t *testing.T) {
	terminal := map[MessageStatus]bool{
		MessageStatusQueued:    false,
		MessageStatusSent:      false,
		MessageStatusDelivered: false,
		MessageStatusRead:      true,
		MessageStatusFailed:    true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestCampaign_StatusChecks(t *testing.T) {
	draft := &Campaign{Status: CampaignStatusDraft}
	running := &Campaign{Status: CampaignStatusRunning}
	completed := &Campaign{Status: CampaignStatusCompleted}

	if !draft.CanStart() || running.CanStart() || completed.CanStart() {
		t.Error("only draft campaigns can start")
	}
	if draft.CanCancel() || !running.CanCancel() || completed.CanCancel() {
		t.Error("only running campaigns can be cancelled")
	}
	if _, ok := ParseCampaignStatus("scheduled"); ok {
		t.Error("scheduled is not a campaign status")
	}
}

func TestCampaignStats_Add(t *testing.T) {
	var stats CampaignStats
	stats.Add(MessageStatusQueued, 3)
	stats.Add(MessageStatusSent, 2)
	stats.Add(MessageStatusFailed, 1)

	if stats.Total != 6 || stats.Queued != 3 || stats.Sent != 2 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
