package session

import "testing"

func TestNewSessionDefaults(t *testing.T) {
	s := New("sess1")
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected initial phase Idle, got %v", s.Phase())
	}
	if s.ClientBufferFrames() != DefaultClientBufferFrames {
		t.Fatalf("expected default buffer frames %d, got %d", DefaultClientBufferFrames, s.ClientBufferFrames())
	}
}

func TestAppendAudioOnlyWhileListening(t *testing.T) {
	s := New("sess1")
	if s.AppendAudio("wav", []byte("x")) {
		t.Fatalf("expected append to reject while Idle")
	}
	s.SetPhase(PhaseListening)
	if !s.AppendAudio("wav", []byte("x")) {
		t.Fatalf("expected append to succeed while Listening")
	}
	if !s.AppendAudio("wav", []byte("y")) {
		t.Fatalf("expected second append to succeed")
	}
	data, format := s.DrainAudio()
	if string(data) != "xy" || format != "wav" {
		t.Fatalf("unexpected drained audio: %q %q", data, format)
	}
}

func TestCancelVoiceInputClearsBuffer(t *testing.T) {
	s := New("sess1")
	s.SetPhase(PhaseListening)
	s.AppendAudio("wav", []byte("abc"))
	s.ClearAudio()
	s.SetPhase(PhaseIdle)
	data, _ := s.DrainAudio()
	if len(data) != 0 {
		t.Fatalf("expected empty buffer after cancel, got %d bytes", len(data))
	}
}

func TestUpdateFeedback(t *testing.T) {
	s := New("sess1")
	s.UpdateFeedback(150, 2)
	if s.ClientBufferFrames() != 150 || s.ClientUnderruns() != 2 {
		t.Fatalf("feedback not updated: %d %d", s.ClientBufferFrames(), s.ClientUnderruns())
	}
}

func TestStoreGetOrCreateIsIdempotent(t *testing.T) {
	st := NewStore()
	a := st.GetOrCreate("x")
	b := st.GetOrCreate("x")
	if a != b {
		t.Fatalf("expected the same session instance on repeat GetOrCreate")
	}
}

func TestStoreDestroyRemovesSession(t *testing.T) {
	st := NewStore()
	st.GetOrCreate("x")
	st.Destroy("x")
	if st.Get("x") != nil {
		t.Fatalf("expected session to be gone after Destroy")
	}
}

func TestSnapshotsNeverExposeAudio(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("x")
	s.SetPhase(PhaseListening)
	s.AppendAudio("wav", []byte("secretaudio"))
	snaps := st.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].AudioInBytes != len("secretaudio") {
		t.Fatalf("expected byte count only, got %d", snaps[0].AudioInBytes)
	}
}
