package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskMode(t *testing.T) {
	for _, m := range AllModes {
		got, err := ParseTaskMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseTaskMode("generalcommunication")
	assert.Error(t, err)
}

func TestModeCapabilities(t *testing.T) {
	assert.True(t, ModeSimulatedQsoPractice.IsSimulation())
	assert.False(t, ModeGeneralCommunication.IsSimulation())
	assert.False(t, ModeAirbandListening.CanTransmit())
	assert.True(t, ModeEmergencyCommunication.CanTransmit())
	assert.False(t, ModeMeshtasticGateway.RequiresVoice())
}

func TestTaskName(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 1, 0, time.FixedZone("CST", 8*3600))
	name := TaskName(ModeAirbandListening, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", at)
	assert.Equal(t, "AirbandListening_20240308_230501Z_1b4e28ba2fa111d2883f0016d3cca427", name)
}

func TestActiveStatuses(t *testing.T) {
	assert.True(t, TaskStatusInitializing.Active())
	assert.True(t, TaskStatusStopping.Active())
	assert.False(t, TaskStatusIdle.Active())
	assert.False(t, TaskStatusTerminated.Active())
}

func TestIsFatal(t *testing.T) {
	dev := &DeviceError{Kind: LeasePTT, Err: errors.New("write failed")}
	assert.True(t, IsFatal(fmt.Errorf("transmit: %w", dev)))
	assert.True(t, IsFatal(&FatalError{Reason: "ptt stuck"}))
	assert.False(t, IsFatal(&StageFailedError{Stage: StageSpeechToText, Reason: "timeout"}))
	assert.False(t, IsFatal(ErrHardwareBusy))

	var tooSoon *TooSoonError
	require.True(t, errors.As(fmt.Errorf("send: %w", &TooSoonError{RetryAfterMs: 1200}), &tooSoon))
	assert.Equal(t, int64(1200), tooSoon.RetryAfterMs)
}
