package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const venuesYAML = `
defaults:
  opening_time: "10:00 AM"
  closing_time: "12:00 AM"
venues:
  - id: arena
    name: Arena
    owner_id: owner-1
    rooms:
      - name: A
        groups:
          - type: PC
            price_per_hour: 100
            count: 5
          - type: PS5
            price_per_hour: 150
            stations: [PS-1, PS-2]
      - name: B
        groups:
          - type: PC
            price_per_hour: 120
            count: 2
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ExpandsEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STATIONBOOK_TEST_SECRET", "s3cret")
	path := writeFile(t, dir, "config.yaml", `
auth:
  jwt_secret: ${STATIONBOOK_TEST_SECRET}
database:
  path: `+filepath.Join(dir, "db", "test.db")+`
scheduling:
  timezone: UTC
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, 15*time.Minute, cfg.CancelGrace())
	assert.Equal(t, 10*time.Minute, cfg.PermanentCancelAfter())
	assert.Equal(t, "reservation.refund", cfg.AMQP.RefundQueue)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "test.db")+`
scheduling:
  timezone: Mars/Olympus
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseVenuesConfig(t *testing.T) {
	cfg, err := ParseVenuesConfig([]byte(venuesYAML))
	require.NoError(t, err)

	v := cfg.GetVenueByID("arena")
	require.NotNil(t, v)
	assert.Equal(t, "10:00 AM", v.OpeningTime)
	assert.True(t, *v.IsActive)

	pcA := v.Rooms[0].Groups[0]
	assert.Equal(t, []string{"PC01", "PC02", "PC03", "PC04", "PC05"}, pcA.Stations)
	pcB := v.Rooms[1].Groups[0]
	assert.Equal(t, []string{"PC06", "PC07"}, pcB.Stations, "generated ids continue across rooms")

	venues := cfg.ToModels()
	require.Len(t, venues, 1)
	g, err := venues[0].Group("A", "PS5")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Count)
	assert.Equal(t, "150", g.PricePerHour.String())
	assert.Contains(t, cfg.String(), "9 stations")
}

func TestVenuesConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no venues",
			yaml:    `venues: []`,
			wantErr: "no venues defined",
		},
		{
			name: "missing owner",
			yaml: `
venues:
  - id: x
    name: X
    rooms: [{name: A, groups: [{type: PC, count: 1}]}]`,
			wantErr: "owner_id is required",
		},
		{
			name: "duplicate station",
			yaml: `
venues:
  - id: x
    name: X
    owner_id: o
    rooms:
      - {name: A, groups: [{type: PC, stations: [S1]}]}
      - {name: B, groups: [{type: PC, stations: [S1]}]}`,
			wantErr: "duplicate station id 'S1'",
		},
		{
			name: "empty group",
			yaml: `
venues:
  - id: x
    name: X
    owner_id: o
    rooms: [{name: A, groups: [{type: PC}]}]`,
			wantErr: "stations or count is required",
		},
		{
			name: "closing before opening",
			yaml: `
venues:
  - id: x
    name: X
    owner_id: o
    opening_time: "06:00 PM"
    closing_time: "09:00 AM"
    rooms: [{name: A, groups: [{type: PC, count: 1}]}]`,
			wantErr: "must be after opening time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVenuesConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatchVenues_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "venues.yaml", venuesYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *VenuesConfig, 4)
	err := WatchVenues(ctx, path, 10*time.Millisecond, func(c *VenuesConfig) { updates <- c }, nil)
	require.NoError(t, err)

	first := <-updates
	assert.Len(t, first.Venues, 1)

	changed := venuesYAML + `
  - id: second
    name: Second
    owner_id: owner-2
    rooms: [{name: A, groups: [{type: PC, count: 1}]}]
`
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case second := <-updates:
		assert.Len(t, second.Venues, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload after file change")
	}
}
