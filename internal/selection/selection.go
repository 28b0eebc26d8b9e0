// Package selection tracks what the user is looking at: a browse sample of the collection,
// or one selected artwork together with the artworks most similar to it.
package selection

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hyperjump/ruiji/internal/dedupe"
	"github.com/hyperjump/ruiji/internal/models"
)

// Mode is the display mode derived from the state.
type Mode string

const (
	Browsing   Mode = "browsing"
	Inspecting Mode = "inspecting"
)

// State is one user session. The zero value is a session in browse mode.
// It is not safe for concurrent use; callers serialise transitions.
type State struct {
	selected *models.Record
	similar  []models.Record
	cached   bool
}

// Selected returns the selected record, or nil while browsing.
func (s *State) Selected() *models.Record {
	if s.selected == nil {
		return nil
	}
	rec := *s.selected
	return &rec
}

// Mode reports Inspecting when a record is selected and Browsing otherwise.
func (s *State) Mode() Mode {
	if s.selected != nil {
		return Inspecting
	}
	return Browsing
}

// Retriever is the part of the retrieval client the state machine needs.
type Retriever interface {
	FetchSample(ctx context.Context, limit int) ([]models.Record, error)
	RecommendSimilar(ctx context.Context, anchorID models.PointID, limit int) ([]models.Record, error)
}

// Config holds the browse and inspect limits.
type Config struct {
	SampleLimit    int
	DisplayCap     int
	Shuffle        bool
	RecommendLimit int
	SimilarCap     int
}

// DefaultConfig returns the standard limits: sample 100, show 30, recommend 100, show 15.
func DefaultConfig() Config {
	return Config{
		SampleLimit:    100,
		DisplayCap:     30,
		Shuffle:        true,
		RecommendLimit: 100,
		SimilarCap:     15,
	}
}

// View is what the user sees after a transition.
type View struct {
	Mode     Mode            `json:"mode"`
	Selected *models.Record  `json:"selected,omitempty"`
	Records  []models.Record `json:"records"`
}

// Machine applies transitions to a State and computes its View.
type Machine struct {
	retriever Retriever
	cfg       Config
	rnd       *rand.Rand
	rndMu     sync.Mutex
}

// NewMachine creates a state machine. A nil rnd seeds one from the clock.
func NewMachine(retriever Retriever, cfg Config, rnd *rand.Rand) *Machine {
	def := DefaultConfig()
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = def.SampleLimit
	}
	if cfg.DisplayCap <= 0 {
		cfg.DisplayCap = def.DisplayCap
	}
	if cfg.RecommendLimit <= 0 {
		cfg.RecommendLimit = def.RecommendLimit
	}
	if cfg.SimilarCap <= 0 {
		cfg.SimilarCap = def.SimilarCap
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Machine{retriever: retriever, cfg: cfg, rnd: rnd}
}

// Select makes rec the current selection and drops any cached similar set.
func (m *Machine) Select(st *State, rec models.Record) {
	st.selected = &rec
	st.similar = nil
	st.cached = false
}

// Reset returns to browse mode.
func (m *Machine) Reset(st *State) {
	st.selected = nil
	st.similar = nil
	st.cached = false
}

// View computes the current view. Browse mode samples the collection on every call.
// Inspect mode asks the index once per selection and serves later calls from the state.
// On error the state is left unchanged.
func (m *Machine) View(ctx context.Context, st *State) (View, error) {
	if st.selected == nil {
		records, err := m.browse(ctx)
		if err != nil {
			return View{}, err
		}
		return View{Mode: Browsing, Records: records}, nil
	}

	if !st.cached {
		similar, err := m.retriever.RecommendSimilar(ctx, st.selected.ID, m.cfg.RecommendLimit)
		if err != nil {
			return View{}, err
		}
		st.similar = dedupe.Cap(dedupe.Records(similar), m.cfg.SimilarCap)
		st.cached = true
	}
	return View{
		Mode:     Inspecting,
		Selected: st.Selected(),
		Records:  append(make([]models.Record, 0, len(st.similar)), st.similar...),
	}, nil
}

func (m *Machine) browse(ctx context.Context) ([]models.Record, error) {
	sample, err := m.retriever.FetchSample(ctx, m.cfg.SampleLimit)
	if err != nil {
		return nil, err
	}
	unique := dedupe.Records(sample)
	if m.cfg.Shuffle {
		m.rndMu.Lock()
		m.rnd.Shuffle(len(unique), func(i, j int) { unique[i], unique[j] = unique[j], unique[i] })
		m.rndMu.Unlock()
	}
	return dedupe.Cap(unique, m.cfg.DisplayCap), nil
}
