package barge

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
)

func pcmSine(sr int, hz float64, durMs int, amplitude float64) []byte {
	n := sr * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

func TestEngine_TriggersOnSpeechDuringPlayback(t *testing.T) {
	var triggered, stopped int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
		OnTTSStop: func() { atomic.AddInt32(&stopped, 1) },
	})
	e.SetSpeaking(true)
	e.FeedMic(pcmSine(16000, 220, 400, 8000))
	if atomic.LoadInt32(&triggered) == 0 {
		t.Fatalf("expected trigger on sustained loud speech")
	}
	if atomic.LoadInt32(&stopped) == 0 {
		t.Fatalf("expected stop callback")
	}
}

func TestEngine_IgnoresSpeechWhenNotSpeaking(t *testing.T) {
	var triggered int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
	})
	e.FeedMic(pcmSine(16000, 220, 400, 8000))
	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("expected no trigger while not speaking")
	}
}

func TestEngine_IgnoresSilence(t *testing.T) {
	var triggered int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
	})
	e.SetSpeaking(true)
	e.FeedMic(pcmSine(16000, 220, 400, 20))
	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("expected no trigger on near-silence")
	}
}

func TestEngine_ASRGrowthTriggersOnQuietSpeech(t *testing.T) {
	var triggered int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
	})
	e.SetSpeaking(true)
	e.NotifyPartial("please stop talking now")
	// quiet audio alone would not vote, but the transcript grew
	e.FeedMic(pcmSine(16000, 220, 400, 20))
	if atomic.LoadInt32(&triggered) == 0 {
		t.Fatalf("expected trigger on transcript growth")
	}
}

func TestEngine_DiscountsEchoedWords(t *testing.T) {
	var triggered int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
	})
	e.SetSpeaking(true)
	e.NotifyTTSText("Photosynthesis converts sunlight into energy")
	// the recognizer hears only the assistant's own playback
	e.NotifyPartial("photosynthesis converts sunlight")
	e.FeedMic(pcmSine(16000, 220, 400, 20))
	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("expected echoed words to be discounted")
	}
}

func TestEngine_ResetClearsPartialState(t *testing.T) {
	var triggered int32
	e := NewEngine(DefaultConfig(), Events{
		OnTrigger: func() { atomic.AddInt32(&triggered, 1) },
	})
	e.SetSpeaking(true)
	e.NotifyPartial("please stop talking now")
	e.Reset()
	e.FeedMic(pcmSine(16000, 220, 100, 20))
	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("expected no trigger after reset cleared the partial")
	}
}

func TestVoteWindow_RequiresFullHistory(t *testing.T) {
	v := newVoteWindow(100)
	v.Push(true)
	if v.Ratio() != 0 {
		t.Fatalf("expected zero ratio on partial history")
	}
	for i := 0; i < 20; i++ {
		v.Push(true)
	}
	if v.Ratio() < 0.99 {
		t.Fatalf("expected ratio ~1, got %f", v.Ratio())
	}
}

func TestBloom(t *testing.T) {
	b := newBloom(1024)
	b.Add("photosynthesis")
	if !b.Contains("photosynthesis") {
		t.Fatalf("expected contained word")
	}
	if b.Contains("") {
		t.Fatalf("empty string must never be contained")
	}
}
