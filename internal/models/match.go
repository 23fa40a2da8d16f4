package models

// Match is one discovered cross-source link. A symmetric pair appears at
// most once in each direction and Score is never below the configured minimum.
type Match struct {
	SourceKind string   `json:"source_kind"`
	SourceID   string   `json:"source_id"`
	TargetKind string   `json:"target_kind"`
	TargetID   string   `json:"target_id"`
	Score      float64  `json:"score"` // [0,1]
	Evidence   []string `json:"evidence"`
}

// MatchReport aggregates the matching run for result/matches/matches.json
type MatchReport struct {
	MinScore   float64 `json:"min_score"`
	SourceSize int     `json:"source_size"`
	TargetSize int     `json:"target_size"`
	Matches    []Match `json:"matches"`
}
