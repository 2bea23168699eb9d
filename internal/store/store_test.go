package store

import (
	"math"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CalibrationRoundTrip(t *testing.T) {
	s := testStore(t)

	want := Calibration{
		Profile: GyroscopeProfile,
		BiasX:   0.0123,
		BiasY:   -0.0456,
		BiasZ:   0.0007,
	}
	if err := s.SaveCalibration(want); err != nil {
		t.Fatalf("SaveCalibration() error = %v", err)
	}

	got, ok, err := s.LoadCalibration(GyroscopeProfile)
	if err != nil {
		t.Fatalf("LoadCalibration() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a stored calibration")
	}

	const tol = 1e-12
	if math.Abs(got.BiasX-want.BiasX) > tol ||
		math.Abs(got.BiasY-want.BiasY) > tol ||
		math.Abs(got.BiasZ-want.BiasZ) > tol {
		t.Errorf("bias round trip diverged: want %+v, got %+v", want, got)
	}
	if got.CalibratedAt.IsZero() {
		t.Error("expected a calibration timestamp")
	}
}

func TestStore_CalibrationUpsert(t *testing.T) {
	s := testStore(t)

	s.SaveCalibration(Calibration{Profile: GyroscopeProfile, BiasX: 1})
	s.SaveCalibration(Calibration{Profile: GyroscopeProfile, BiasX: 2})

	got, ok, err := s.LoadCalibration(GyroscopeProfile)
	if err != nil || !ok {
		t.Fatalf("LoadCalibration() = %v, %v, %v", got, ok, err)
	}
	if got.BiasX != 2 {
		t.Errorf("expected the newer bias 2, got %f", got.BiasX)
	}
}

func TestStore_MissingCalibrationIsNotAnError(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.LoadCalibration("never-calibrated")
	if err != nil {
		t.Fatalf("LoadCalibration() error = %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing profile")
	}
}

func TestStore_DeleteCalibration(t *testing.T) {
	s := testStore(t)

	s.SaveCalibration(Calibration{Profile: GyroscopeProfile, BiasX: 1})
	if err := s.DeleteCalibration(GyroscopeProfile); err != nil {
		t.Fatalf("DeleteCalibration() error = %v", err)
	}

	_, ok, _ := s.LoadCalibration(GyroscopeProfile)
	if ok {
		t.Error("expected the calibration to be gone")
	}
}

func TestStore_Settings(t *testing.T) {
	s := testStore(t)

	if err := s.SetSetting("target_fps", "15"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	s.SetSetting("target_fps", "30")

	got, ok, err := s.GetSetting("target_fps")
	if err != nil || !ok {
		t.Fatalf("GetSetting() = %q, %v, %v", got, ok, err)
	}
	if got != "30" {
		t.Errorf("expected the replaced value 30, got %q", got)
	}

	if _, ok, _ := s.GetSetting("missing"); ok {
		t.Error("expected ok=false for an unset key")
	}
}
