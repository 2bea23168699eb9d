package store

import (
	"database/sql"
	"time"
)

// GyroscopeProfile is the calibration profile name for the gyroscope bias.
const GyroscopeProfile = "gyroscope"

// Calibration is a persisted per-axis sensor bias.
type Calibration struct {
	Profile      string
	BiasX        float64
	BiasY        float64
	BiasZ        float64
	CalibratedAt time.Time
}

// SaveCalibration stores a calibration, replacing any existing one for the
// same profile.
func (s *Store) SaveCalibration(c Calibration) error {
	if c.CalibratedAt.IsZero() {
		c.CalibratedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO calibration (profile, bias_x, bias_y, bias_z, calibrated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET
			bias_x = excluded.bias_x,
			bias_y = excluded.bias_y,
			bias_z = excluded.bias_z,
			calibrated_at = excluded.calibrated_at`,
		c.Profile, c.BiasX, c.BiasY, c.BiasZ, c.CalibratedAt,
	)
	return err
}

// LoadCalibration returns the stored calibration for a profile. A missing
// profile is not an error: ok is false.
func (s *Store) LoadCalibration(profile string) (Calibration, bool, error) {
	var c Calibration
	err := s.db.QueryRow(
		`SELECT profile, bias_x, bias_y, bias_z, calibrated_at
		 FROM calibration WHERE profile = ?`, profile,
	).Scan(&c.Profile, &c.BiasX, &c.BiasY, &c.BiasZ, &c.CalibratedAt)
	if err == sql.ErrNoRows {
		return Calibration{}, false, nil
	}
	if err != nil {
		return Calibration{}, false, err
	}
	return c, true, nil
}

// DeleteCalibration removes the stored calibration for a profile.
func (s *Store) DeleteCalibration(profile string) error {
	_, err := s.db.Exec(`DELETE FROM calibration WHERE profile = ?`, profile)
	return err
}
