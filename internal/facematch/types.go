// Package facematch scores a probe face against stored embeddings and ranks the matches.
package facematch

import "github.com/kozaktomas/face-finder/internal/database"

// Match is one qualifying comparison between the probe and a stored face.
type Match struct {
	ImageID    string  `json:"image_id"`
	Event      string  `json:"event"`
	Date       string  `json:"date"`
	Department string  `json:"department"`
	District   string  `json:"district"`
	Similarity float64 `json:"similarity"`
	FaceIndex  int     `json:"face_index"`
}

// newMatch copies the record metadata into a match.
func newMatch(rec *database.ImageRecord, faceIndex int, similarity float64) Match {
	return Match{
		ImageID:    rec.ImageID,
		Event:      rec.Event,
		Date:       rec.Date,
		Department: rec.Department,
		District:   rec.District,
		Similarity: similarity,
		FaceIndex:  faceIndex,
	}
}

// Options controls scoring and ranking.
type Options struct {
	Threshold   float64 // minimum raw similarity, inclusive
	Dedupe      bool    // keep only the best face per image
	TopK        int     // 0 means unlimited
	Concurrency int     // parallel scoring workers
}
