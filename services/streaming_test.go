package services

import (
	"testing"

	"neurolink/models"
)

func allAboveRates() map[models.SensorType]float64 {
	return map[models.SensorType]float64{
		models.SensorEEG: 250,
		models.SensorPPG: 64,
		models.SensorACC: 52,
	}
}

func eegDippedRates() map[models.SensorType]float64 {
	r := allAboveRates()
	r[models.SensorEEG] = 10
	return r
}

func TestDetectorActivatesOnFirstGoodEvaluation(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())

	if state := d.Update(map[models.SensorType]float64{}); state.Phase != models.StreamingIdle {
		t.Fatalf("no data should read Idle, got %s", state.Phase)
	}
	if state := d.Update(allAboveRates()); state.Phase != models.StreamingActive {
		t.Fatalf("one good evaluation should activate, got %s", state.Phase)
	}
}

func TestDetectorRequiresAllSensorsAboveThreshold(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	if state := d.Update(eegDippedRates()); state.Phase != models.StreamingIdle {
		t.Fatalf("partial throughput must not activate, got %s", state.Phase)
	}
}

func TestDetectorAbsorbsSingleTickDip(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	d.Update(allAboveRates())

	// one dipped tick holds at Degrading, never Idle
	if state := d.Update(eegDippedRates()); state.Phase != models.StreamingDegrading {
		t.Fatalf("single dip should hold at Degrading, got %s", state.Phase)
	}
	// recovery restores Active
	if state := d.Update(allAboveRates()); state.Phase != models.StreamingActive {
		t.Fatalf("recovery should restore Active, got %s", state.Phase)
	}
}

func TestDetectorFlipsIdleAfterConsecutiveDips(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	d.Update(allAboveRates())

	d.Update(eegDippedRates())
	if state := d.Update(eegDippedRates()); state.Phase != models.StreamingIdle {
		t.Fatalf("two consecutive dips should flip to Idle, got %s", state.Phase)
	}
	// and stays Idle without throughput
	if state := d.Update(eegDippedRates()); state.Phase != models.StreamingIdle {
		t.Fatalf("Idle must hold without throughput, got %s", state.Phase)
	}
}

func TestDetectorNarrowsRequiredSensors(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	// device advertises only an EEG channel
	d.SetRequired([]models.SensorType{models.SensorEEG, models.SensorBattery})

	rates := map[models.SensorType]float64{models.SensorEEG: 250}
	if state := d.Update(rates); state.Phase != models.StreamingActive {
		t.Fatalf("narrowed sensor set should activate on eeg alone, got %s", state.Phase)
	}
}

func TestDetectorIgnoresEmptyRequiredSet(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	d.SetRequired([]models.SensorType{models.SensorBattery})

	// the battery-only request was rejected, full set still applies
	if state := d.Update(eegDippedRates()); state.Phase != models.StreamingIdle {
		t.Fatalf("required set should be unchanged, got %s", state.Phase)
	}
}

func TestDetectorStateSnapshotsRates(t *testing.T) {
	d := NewStreamingDetector(testConfig(), testLogger())
	rates := allAboveRates()
	state := d.Update(rates)

	rates[models.SensorEEG] = 0
	if state.Rates[models.SensorEEG] != 250 {
		t.Fatalf("state must copy rates, not alias the caller's map")
	}
}
