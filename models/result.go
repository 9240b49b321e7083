package models

// ResultType is the closed set of terminal match outcomes.
type ResultType string

const (
	ResultPlayer1Win       ResultType = "Player1Win"
	ResultPlayer1Crash     ResultType = "Player1Crash"
	ResultPlayer1TimeOut   ResultType = "Player1TimeOut"
	ResultPlayer1Surrender ResultType = "Player1Surrender"
	ResultPlayer2Win       ResultType = "Player2Win"
	ResultPlayer2Crash     ResultType = "Player2Crash"
	ResultPlayer2TimeOut   ResultType = "Player2TimeOut"
	ResultPlayer2Surrender ResultType = "Player2Surrender"
	ResultTie              ResultType = "Tie"
	ResultMatchCancelled   ResultType = "MatchCancelled"
	ResultInitError        ResultType = "InitializationError"
	ResultError            ResultType = "Error"
)

// AllResultTypes lists every valid outcome, used for request validation.
var AllResultTypes = []ResultType{
	ResultPlayer1Win, ResultPlayer1Crash, ResultPlayer1TimeOut, ResultPlayer1Surrender,
	ResultPlayer2Win, ResultPlayer2Crash, ResultPlayer2TimeOut, ResultPlayer2Surrender,
	ResultTie, ResultMatchCancelled, ResultInitError, ResultError,
}

func (t ResultType) Valid() bool {
	for _, rt := range AllResultTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// WinnerParticipantNumber derives the winning slot from the outcome alone.
// Slot 0 means no winner. Total over AllResultTypes.
func (t ResultType) WinnerParticipantNumber() int {
	switch t {
	case ResultPlayer1Win, ResultPlayer2Crash, ResultPlayer2TimeOut, ResultPlayer2Surrender:
		return 1
	case ResultPlayer2Win, ResultPlayer1Crash, ResultPlayer1TimeOut, ResultPlayer1Surrender:
		return 2
	case ResultTie, ResultMatchCancelled, ResultInitError, ResultError:
		return 0
	}
	return 0
}

func (t ResultType) HasWinner() bool {
	return t.WinnerParticipantNumber() != 0
}

func (t ResultType) IsTie() bool {
	return t == ResultTie
}

// Competitive outcomes are the only ones that move ratings.
func (t ResultType) Competitive() bool {
	return t.HasWinner() || t.IsTie()
}

func (t ResultType) IsCrash() bool {
	return t == ResultPlayer1Crash || t == ResultPlayer2Crash
}

func (t ResultType) IsTimeout() bool {
	return t == ResultPlayer1TimeOut || t == ResultPlayer2TimeOut
}

// Result is the terminal outcome record of exactly one match. The unique
// index on MatchID is what closes the race between concurrent submissions.
type Result struct {
	ID      string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID string     `gorm:"uniqueIndex;not null" json:"match_id"`
	Type    ResultType `gorm:"type:varchar(32);not null" json:"type"`

	// Winner bot resolved from the winning slot's participation, nil when
	// the outcome has no winner.
	WinnerID *string `gorm:"index" json:"winner_id,omitempty"`
	Winner   *Bot    `gorm:"foreignKey:WinnerID" json:"winner,omitempty"`

	GameSteps int `json:"game_steps" gorm:"default:0"`

	ReplayFileURL  *string `json:"replay_file_url,omitempty"`
	ArenaClientLog *string `json:"arenaclient_log_url,omitempty"`

	// Decisive or tie outcome arrived without a replay. Tolerated but
	// persisted so external alerting can pick it up.
	ReplayCorrupted bool `json:"replay_corrupted" gorm:"default:false"`

	SubmittedByID *string    `gorm:"index" json:"submitted_by_id,omitempty"`
	SubmittedBy   *ArenaUser `gorm:"foreignKey:SubmittedByID" json:"submitted_by,omitempty"`

	Timestamps
}

// ReplayCorruptionDetected flags a decisive or tie result missing its replay.
// Some replays corrupt during upload; the result itself is still valid.
func (r *Result) ReplayCorruptionDetected() bool {
	return (r.Type.HasWinner() || r.Type.IsTie()) && (r.ReplayFileURL == nil || *r.ReplayFileURL == "")
}
