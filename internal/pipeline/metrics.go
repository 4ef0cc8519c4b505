package pipeline

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	segmentsCounter  otelmetric.Int64Counter
	interimCounter   otelmetric.Int64Counter
	framesDropped    otelmetric.Int64Counter
	sessionsStarted  otelmetric.Int64Counter
	extractTriggered otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("meetingmind/pipeline")
	var err error
	if segmentsCounter, err = meter.Int64Counter("segments_finalized_total"); err != nil {
		log.Printf("pipeline metrics init: segments_finalized_total: %v", err)
	}
	if interimCounter, err = meter.Int64Counter("interim_events_total"); err != nil {
		log.Printf("pipeline metrics init: interim_events_total: %v", err)
	}
	if framesDropped, err = meter.Int64Counter("audio_frames_dropped_total"); err != nil {
		log.Printf("pipeline metrics init: audio_frames_dropped_total: %v", err)
	}
	if sessionsStarted, err = meter.Int64Counter("sessions_started_total"); err != nil {
		log.Printf("pipeline metrics init: sessions_started_total: %v", err)
	}
	if extractTriggered, err = meter.Int64Counter("insight_triggers_total"); err != nil {
		log.Printf("pipeline metrics init: insight_triggers_total: %v", err)
	}
}
