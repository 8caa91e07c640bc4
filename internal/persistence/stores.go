package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/learning"
)

// EntityRecord is one persisted profile.
type EntityRecord struct {
	UserID  string          `json:"user_id"`
	Profile *entity.Profile `json:"profile"`
}

// State is everything that is saved and loaded together.
type State struct {
	Learning *learning.Service
	Entities *entity.Tracker
}

// SaveCoupling writes the coupling matrix.
func (s *Store) SaveCoupling(snap coupling.Snapshot) error {
	return writeEnvelope(s, KindCoupling, []coupling.Snapshot{snap})
}

// LoadCoupling restores the matrix into c. The last valid record wins.
func (s *Store) LoadCoupling(c *coupling.Store) (LoadReport, error) {
	report := LoadReport{Kind: KindCoupling}
	records, fresh, err := s.readEnvelope(KindCoupling)
	report.Fresh = fresh
	if fresh {
		return report, err
	}

	var bad []QuarantinedRecord
	for _, raw := range records {
		var snap coupling.Snapshot
		if err := strictUnmarshal(raw, &snap); err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		if err := c.Restore(snap); err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		report.Loaded++
	}
	report.Quarantined = len(bad)
	report.Fresh = report.Loaded == 0
	return report, s.quarantine(KindCoupling, bad)
}

// SaveFamilies writes one record per family.
func (s *Store) SaveFamilies(snap family.Snapshot) error {
	return writeEnvelope(s, KindFamilies, snap.Families)
}

// LoadFamilies restores families into p. Each record is decoded
// generically and its centroid coerced through signature.Coerce, so a
// centroid stored as strings or numbers of any JSON shape still loads.
func (s *Store) LoadFamilies(p *family.Pool) (LoadReport, error) {
	report := LoadReport{Kind: KindFamilies}
	records, fresh, err := s.readEnvelope(KindFamilies)
	report.Fresh = fresh
	if fresh {
		return report, err
	}

	var bad []QuarantinedRecord
	var good []family.Family
	var origin []json.RawMessage
	for _, raw := range records {
		var generic map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		f, err := family.FromRecord(generic)
		if err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		good = append(good, f)
		origin = append(origin, raw)
	}

	n, errs := p.Restore(family.Snapshot{Families: good})
	if len(errs) > 0 {
		// Restore only rejects duplicates at this point; match them back by id.
		seen := make(map[string]bool)
		for i, f := range good {
			if seen[f.ID] {
				bad = append(bad, s.reject(origin[i], fmt.Errorf("%w: duplicate id %s", family.ErrInvalidRecord, f.ID)))
			}
			seen[f.ID] = true
		}
	}
	report.Loaded = n
	report.Quarantined = len(bad)
	return report, s.quarantine(KindFamilies, bad)
}

// SaveEntities writes one record per user profile.
func (s *Store) SaveEntities(users []entity.UserProfiles) error {
	var records []EntityRecord
	for _, up := range users {
		for _, p := range up.Profiles {
			records = append(records, EntityRecord{UserID: up.UserID, Profile: p})
		}
	}
	return writeEnvelope(s, KindEntities, records)
}

// LoadEntities restores profiles into t.
func (s *Store) LoadEntities(t *entity.Tracker) (LoadReport, error) {
	report := LoadReport{Kind: KindEntities}
	records, fresh, err := s.readEnvelope(KindEntities)
	report.Fresh = fresh
	if fresh {
		return report, err
	}

	var bad []QuarantinedRecord
	byUser := make(map[string]*entity.UserProfiles)
	var order []string
	for _, raw := range records {
		var rec EntityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		if rec.UserID == "" || rec.Profile == nil {
			bad = append(bad, s.reject(raw, errors.New("record needs user_id and profile")))
			continue
		}
		if err := rec.Profile.Validate(); err != nil {
			bad = append(bad, s.reject(raw, err))
			continue
		}
		up, ok := byUser[rec.UserID]
		if !ok {
			up = &entity.UserProfiles{UserID: rec.UserID}
			byUser[rec.UserID] = up
			order = append(order, rec.UserID)
		}
		up.Profiles = append(up.Profiles, rec.Profile)
	}

	users := make([]entity.UserProfiles, 0, len(order))
	for _, id := range order {
		users = append(users, *byUser[id])
	}
	n, errs := t.Restore(users)
	for _, err := range errs {
		s.logger.Error("entity profile rejected on restore", zap.Error(err))
	}
	report.Loaded = n
	report.Quarantined = len(bad)
	return report, s.quarantine(KindEntities, bad)
}

// SaveState writes all three stores. Every store is attempted; the errors
// are joined.
func (s *Store) SaveState(st State) error {
	var errs []error
	if st.Learning != nil {
		cs, fs := st.Learning.Snapshot()
		errs = append(errs, s.SaveCoupling(cs), s.SaveFamilies(fs))
	}
	if st.Entities != nil {
		errs = append(errs, s.SaveEntities(st.Entities.Export()))
	}
	return errors.Join(errs...)
}

// LoadState restores all three stores. Corruption never fails the load:
// the affected store starts fresh and the error is logged.
func (s *Store) LoadState(st State) []LoadReport {
	var reports []LoadReport
	record := func(r LoadReport, err error) {
		if err != nil {
			s.logger.Error("state load degraded", zap.String("kind", r.Kind), zap.Error(err))
		}
		s.logger.Info("state loaded",
			zap.String("kind", r.Kind),
			zap.Int("loaded", r.Loaded),
			zap.Int("quarantined", r.Quarantined),
			zap.Bool("fresh", r.Fresh))
		reports = append(reports, r)
	}
	if st.Learning != nil {
		record(s.LoadCoupling(st.Learning.CouplingStore()))
		record(s.LoadFamilies(st.Learning.Families()))
	}
	if st.Entities != nil {
		record(s.LoadEntities(st.Entities))
	}
	return reports
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
