// Command stub-engine is a stand-in transcription endpoint for local
// development. It accepts the same multipart WAV upload as a real engine
// and answers with synthetic text describing the audio it received.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
)

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "simulated inference latency")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests to fail (0..1)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	http.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"missing file field"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, 16<<20))
		if err != nil {
			http.Error(w, `{"error":"read failed"}`, http.StatusBadRequest)
			return
		}
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			logger.Warn("Rejected upload", "error", err)
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		time.Sleep(*latency)

		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, `{"error":"simulated engine failure"}`, http.StatusInternalServerError)
			return
		}

		duration := float64(len(samples)) / float64(rate)
		resp := map[string]any{
			"text":       fmt.Sprintf("heard %.1fs of audio (rms %.3f)", duration, rms(samples)),
			"confidence": 0.5 + rand.Float32()/2,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)

		logger.Info("Transcribed chunk",
			"samples", len(samples),
			"sample_rate", rate,
			"duration_ms", time.Since(start).Milliseconds(),
			"language", r.FormValue("language"))
	})

	logger.Info("Stub engine listening", "addr", *addr, "latency", *latency, "fail_rate", *failRate)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
