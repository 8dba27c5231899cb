package model

import (
	"fmt"
	"time"

	"scorematrix-cli/internal/scoring"
)

type CharacterKind string

const (
	CharacterDiscrete   CharacterKind = "discrete"
	CharacterContinuous CharacterKind = "continuous"
)

type Taxon struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// LockedBy is set when a user holds the row for editing. Other users
	// cannot modify any cell in the row while it is set.
	LockedBy  *string    `json:"lockedBy,omitempty"`
	LockedAt  *time.Time `json:"lockedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// LockedAgainst reports whether the row lock keeps userID from editing at
// now. A ttl > 0 lets locks older than ttl lapse.
func (t Taxon) LockedAgainst(userID string, now time.Time, ttl time.Duration) bool {
	if t.LockedBy == nil || *t.LockedBy == "" || *t.LockedBy == userID {
		return false
	}
	if ttl > 0 && t.LockedAt != nil && !now.Before(t.LockedAt.Add(ttl)) {
		return false
	}
	return true
}

type CharacterState struct {
	ID   scoring.StateID `json:"id"`
	Num  int             `json:"num"`
	Name string          `json:"name"`
}

type Character struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Kind      CharacterKind    `json:"kind"`
	States    []CharacterState `json:"states,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// HasState reports whether id can be scored for this character. Sentinels
// are valid for every character.
func (c Character) HasState(id scoring.StateID) bool {
	if scoring.IsSentinel(id) {
		return true
	}
	for _, s := range c.States {
		if s.ID == id {
			return true
		}
	}
	return false
}

type Citation struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
}

type Media struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// CellKey identifies one cell of the matrix.
type CellKey struct {
	TaxonID     int64 `json:"taxonId"`
	CharacterID int64 `json:"characterId"`
}

func (k CellKey) String() string {
	return fmt.Sprintf("t%d:c%d", k.TaxonID, k.CharacterID)
}

// CellInfoStatus tracks how far scoring of a cell has progressed.
type CellInfoStatus int

const (
	CellStatusNotStarted CellInfoStatus = 0
	CellStatusInProgress CellInfoStatus = 50
	CellStatusComplete   CellInfoStatus = 100
)

func (s CellInfoStatus) Valid() bool {
	switch s {
	case CellStatusNotStarted, CellStatusInProgress, CellStatusComplete:
		return true
	default:
		return false
	}
}

func ParseCellInfoStatus(s string) (CellInfoStatus, error) {
	switch s {
	case "0", "not-started", "new":
		return CellStatusNotStarted, nil
	case "50", "in-progress":
		return CellStatusInProgress, nil
	case "100", "complete", "done":
		return CellStatusComplete, nil
	default:
		return 0, fmt.Errorf("invalid cell status: %q (expected not-started|in-progress|complete)", s)
	}
}

type ContinuousValue struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end,omitempty"`
}

type CellNote struct {
	Notes  string         `json:"notes"`
	Status CellInfoStatus `json:"status"`
}

type CellCitation struct {
	ID         int64  `json:"id"`
	CitationID int64  `json:"citationId"`
	Pages      string `json:"pages,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Cell is everything stored at one taxon/character intersection.
type Cell struct {
	Key        CellKey           `json:"key"`
	Score      scoring.CellScore `json:"score"`
	Continuous *ContinuousValue  `json:"continuous,omitempty"`
	Note       *CellNote         `json:"note,omitempty"`
	Citations  []CellCitation    `json:"citations,omitempty"`
	Media      []int64           `json:"media,omitempty"`
}

// BatchMode tags a write with the shape of its selection so the store can
// record one undo entry per batch instead of one per cell.
type BatchMode int

const (
	BatchModeSingle BatchMode = 0
	BatchModeRow    BatchMode = 1
	BatchModeColumn BatchMode = 2
	BatchModeCopy   BatchMode = 3
)

func (m BatchMode) String() string {
	switch m {
	case BatchModeSingle:
		return "single"
	case BatchModeRow:
		return "row"
	case BatchModeColumn:
		return "column"
	case BatchModeCopy:
		return "copy"
	default:
		return fmt.Sprintf("batchmode(%d)", int(m))
	}
}

// BatchSelection is the cross-product target of a batch mutation.
type BatchSelection struct {
	TaxonIDs     []int64 `json:"taxonIds" validate:"required,min=1,dive,gt=0"`
	CharacterIDs []int64 `json:"characterIds" validate:"required,min=1,dive,gt=0"`
}

// Cells expands the selection row by row.
func (s BatchSelection) Cells() []CellKey {
	out := make([]CellKey, 0, len(s.TaxonIDs)*len(s.CharacterIDs))
	for _, t := range s.TaxonIDs {
		for _, c := range s.CharacterIDs {
			out = append(out, CellKey{TaxonID: t, CharacterID: c})
		}
	}
	return out
}

// UndoEntry is the audit record of one committed batch mutation.
type UndoEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Reverted    bool      `json:"reverted"`
	UserID      string    `json:"userId,omitempty"`
	BatchMode   BatchMode `json:"batchMode"`
	Kind        string    `json:"kind"`
	CellCount   int       `json:"cellCount"`
}

type Event struct {
	ID       string    `json:"id"`
	TS       time.Time `json:"ts"`
	ActorID  string    `json:"actorId"`
	Type     string    `json:"type"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload"`
}
