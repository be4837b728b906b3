package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
)

func TestResolvePipelineConfigOverridesPreset(t *testing.T) {
	resolved, err := ResolvePipelineConfig(domain.PresetSpeed, domain.PipelineConfig{Step: 1})
	require.NoError(t, err)
	require.Equal(t, 1, resolved.Step)
	require.Equal(t, domain.PresetDefaults(domain.PresetSpeed).MinConf, resolved.MinConf)
}

func TestResolvePipelineConfigRejectsOutOfRange(t *testing.T) {
	_, err := ResolvePipelineConfig(domain.PresetBalance, domain.PipelineConfig{Step: 99})
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestDefaultBlurSettingsFillsZeroFields(t *testing.T) {
	out := DefaultBlurSettings(domain.BlurSettings{Y: 400})
	require.Equal(t, 400, out.Y)
	require.Equal(t, domain.BlurModeBlur, out.Mode)
	require.Equal(t, 24.0, out.FontSize)
}
