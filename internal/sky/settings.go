package sky

// SkySettingsData holds the tunable globals of a sky. Gravity multiplies the
// physics world's default gravity.
type SkySettingsData struct {
	ViewScale float64 `json:"viewScale" yaml:"view_scale"`
	Gravity   float64 `json:"gravity" yaml:"gravity"`
}

// DefaultSkySettings returns neutral settings.
func DefaultSkySettings() SkySettingsData {
	return SkySettingsData{ViewScale: 1, Gravity: 1}
}

// VerifyStructure rejects non-positive view scales.
func (d SkySettingsData) VerifyStructure() bool { return d.ViewScale > 0 }

// SkySettingsDelta changes some settings.
type SkySettingsDelta struct {
	ViewScale *float64 `json:"viewScale,omitempty"`
	Gravity   *float64 `json:"gravity,omitempty"`
}

// VerifyStructure rejects non-positive view scales.
func (d SkySettingsDelta) VerifyStructure() bool {
	return d.ViewScale == nil || *d.ViewScale > 0
}

// ChangeGravity builds a delta setting the gravity multiplier.
func ChangeGravity(gravity float64) SkySettingsDelta {
	return SkySettingsDelta{Gravity: &gravity}
}

// ChangeView builds a delta setting the view scale.
func ChangeView(viewScale float64) SkySettingsDelta {
	return SkySettingsDelta{ViewScale: &viewScale}
}

// SkySettings is the AutoNetworked holder of SkySettingsData. Any change
// makes the next collection report every field.
type SkySettings struct {
	data     SkySettingsData
	modified bool
}

func NewSkySettings(data SkySettingsData) *SkySettings {
	return &SkySettings{data: data}
}

func (s *SkySettings) ViewScale() float64 { return s.data.ViewScale }
func (s *SkySettings) Gravity() float64   { return s.data.Gravity }

func (s *SkySettings) CaptureInitializer() SkySettingsData { return s.data }

func (s *SkySettings) ApplyDelta(delta SkySettingsDelta) {
	if delta.Gravity != nil {
		s.data.Gravity = *delta.Gravity
	}
	if delta.ViewScale != nil {
		s.data.ViewScale = *delta.ViewScale
	}
	s.modified = true
}

func (s *SkySettings) CollectDelta() (SkySettingsDelta, bool) {
	if !s.modified {
		return SkySettingsDelta{}, false
	}
	s.modified = false
	viewScale, gravity := s.data.ViewScale, s.data.Gravity
	return SkySettingsDelta{ViewScale: &viewScale, Gravity: &gravity}, true
}
