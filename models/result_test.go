package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWinnerParticipantNumber(t *testing.T) {
	cases := map[ResultType]int{
		ResultPlayer1Win:       1,
		ResultPlayer2Crash:     1,
		ResultPlayer2TimeOut:   1,
		ResultPlayer2Surrender: 1,
		ResultPlayer2Win:       2,
		ResultPlayer1Crash:     2,
		ResultPlayer1TimeOut:   2,
		ResultPlayer1Surrender: 2,
		ResultTie:              0,
		ResultMatchCancelled:   0,
		ResultInitError:        0,
		ResultError:            0,
	}

	// The mapping must be total: every declared type appears above.
	assert.Len(t, cases, len(AllResultTypes))

	for rt, want := range cases {
		assert.Equal(t, want, rt.WinnerParticipantNumber(), "type %s", rt)
	}
}

func TestOutcomeClassesPartition(t *testing.T) {
	for _, rt := range AllResultTypes {
		hasWinner := rt.HasWinner()
		isTie := rt.IsTie()

		// A result is never both decisive and a tie.
		assert.False(t, hasWinner && isTie, "type %s", rt)

		// Competitive covers exactly the decisive and tie outcomes.
		assert.Equal(t, hasWinner || isTie, rt.Competitive(), "type %s", rt)

		if !hasWinner {
			assert.Equal(t, 0, rt.WinnerParticipantNumber(), "type %s", rt)
		}
	}

	// The non-competitive remainder is exactly the cancel/error kinds.
	var nonCompetitive []ResultType
	for _, rt := range AllResultTypes {
		if !rt.Competitive() {
			nonCompetitive = append(nonCompetitive, rt)
		}
	}
	assert.ElementsMatch(t,
		[]ResultType{ResultMatchCancelled, ResultInitError, ResultError},
		nonCompetitive)
}

func TestResultTypeValid(t *testing.T) {
	for _, rt := range AllResultTypes {
		assert.True(t, rt.Valid())
	}
	assert.False(t, ResultType("Player3Win").Valid())
	assert.False(t, ResultType("").Valid())
}

func TestReplayCorruptionDetected(t *testing.T) {
	url := "https://cdn.example.com/replays/x.SC2Replay"
	empty := ""

	r := Result{Type: ResultPlayer1Win}
	assert.True(t, r.ReplayCorruptionDetected())

	r = Result{Type: ResultPlayer1Win, ReplayFileURL: &empty}
	assert.True(t, r.ReplayCorruptionDetected())

	r = Result{Type: ResultTie}
	assert.True(t, r.ReplayCorruptionDetected())

	r = Result{Type: ResultPlayer1Win, ReplayFileURL: &url}
	assert.False(t, r.ReplayCorruptionDetected())

	// Cancelled and error results legitimately have no replay.
	r = Result{Type: ResultMatchCancelled}
	assert.False(t, r.ReplayCorruptionDetected())
	r = Result{Type: ResultInitError}
	assert.False(t, r.ReplayCorruptionDetected())
}
