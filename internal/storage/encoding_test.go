package storage

import (
	"testing"
	"time"

	"github.com/netwatch-io/netwatch/internal/models"
)

func TestEncryptionLevelForFamily(t *testing.T) {
	cases := map[models.MetricFamily]EncryptionLevel{
		models.FamilySecurity:        EncryptionSensitive,
		models.FamilySystemResources: EncryptionSensitive,
		models.FamilyDocsis:          EncryptionAdvanced,
		models.FamilyBandwidth:       EncryptionAdvanced,
		models.FamilyPerformance:     EncryptionBasic,
		models.FamilyConnectivity:    EncryptionBasic,
		models.FamilyLatency:         EncryptionNone,
		models.FamilyWifiMesh:        EncryptionNone,
	}
	for family, want := range cases {
		if got := encryptionLevelFor(family); got != want {
			t.Errorf("encryptionLevelFor(%s) = %s, want %s", family, got, want)
		}
	}
}

func TestDefaultPolicyForFamily(t *testing.T) {
	cases := map[models.MetricFamily]RetentionPolicy{
		models.FamilySecurity:        RetentionArchive,
		models.FamilyDocsis:          RetentionLong,
		models.FamilySystemResources: RetentionLong,
		models.FamilyBandwidth:       RetentionLong,
		models.FamilyConnectivity:    RetentionMedium,
		models.FamilyWifiMesh:        RetentionMedium,
	}
	for family, want := range cases {
		if got := defaultPolicyFor(family); got != want {
			t.Errorf("defaultPolicyFor(%s) = %s, want %s", family, got, want)
		}
	}
}

func TestHorizons(t *testing.T) {
	cases := map[RetentionPolicy]time.Duration{
		RetentionRealtime: time.Hour,
		RetentionShort:    24 * time.Hour,
		RetentionMedium:   7 * 24 * time.Hour,
		RetentionLong:     30 * 24 * time.Hour,
		RetentionArchive:  365 * 24 * time.Hour,
	}
	for policy, want := range cases {
		got, ok := policy.Horizon()
		if !ok || got != want {
			t.Errorf("Horizon(%s) = %v, %v; want %v", policy, got, ok, want)
		}
	}
	if _, ok := RetentionPermanent.Horizon(); ok {
		t.Fatal("permanent must have no horizon")
	}
}

func TestPolicyOverride(t *testing.T) {
	e := &Engine{cfg: Config{RetentionPolicies: map[models.MetricFamily]RetentionPolicy{
		models.FamilyWifiMesh: RetentionArchive,
	}}}
	if got := e.policyFor(models.FamilyWifiMesh); got != RetentionArchive {
		t.Fatalf("override ignored, got %s", got)
	}
	if got := e.policyFor(models.FamilyDocsis); got != RetentionLong {
		t.Fatalf("non-overridden family changed, got %s", got)
	}
}
