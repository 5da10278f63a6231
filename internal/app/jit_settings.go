package app

import (
	"context"
	"time"
)

type JITSettings struct {
	Enabled        bool    `json:"enabled"`
	SegmentSeconds float64 `json:"segmentSeconds"`
}

type JITSettingsEngine interface {
	Enabled() bool
	SegmentSeconds() float64
	UpdateJITSettings(enabled bool, segmentSeconds float64)
}

type JITSettingsStore interface {
	GetJITSettings(ctx context.Context) (JITSettings, bool, error)
	SetJITSettings(ctx context.Context, settings JITSettings) error
}

type JITSettingsManager struct {
	engine  JITSettingsEngine
	store   JITSettingsStore
	timeout time.Duration
}

func NewJITSettingsManager(engine JITSettingsEngine, store JITSettingsStore) *JITSettingsManager {
	return &JITSettingsManager{
		engine:  engine,
		store:   store,
		timeout: 5 * time.Second,
	}
}

func (m *JITSettingsManager) Get() JITSettings {
	return JITSettings{
		Enabled:        m.engine.Enabled(),
		SegmentSeconds: m.engine.SegmentSeconds(),
	}
}

func (m *JITSettingsManager) Update(settings JITSettings) error {
	prev := m.Get()
	m.engine.UpdateJITSettings(settings.Enabled, settings.SegmentSeconds)

	if m.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.store.SetJITSettings(ctx, settings); err != nil {
		m.engine.UpdateJITSettings(prev.Enabled, prev.SegmentSeconds)
		return err
	}
	return nil
}

// Restore applies persisted settings to the engine at startup, if any.
func (m *JITSettingsManager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	settings, ok, err := m.store.GetJITSettings(ctx)
	if err != nil || !ok {
		return err
	}
	m.engine.UpdateJITSettings(settings.Enabled, settings.SegmentSeconds)
	return nil
}
