package insights

import (
	"testing"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

func awayLog(admin intercom.ID, at time.Time, away bool) intercom.ActivityLog {
	return intercom.ActivityLog{
		ActivityType: "admin_away_mode_change",
		CreatedAt:    at.Unix(),
		PerformedBy:  intercom.Author{ID: admin},
		Metadata:     map[string]any{"away_mode": away},
	}
}

func TestBuildAwayCycles(t *testing.T) {
	d := func(day, hour, min int) time.Time { return time.Date(2024, 3, day, hour, min, 0, 0, brt) }
	logs := []intercom.ActivityLog{
		awayLog("10", d(5, 12, 0), true),
		awayLog("10", d(5, 13, 30), false),
		awayLog("10", d(4, 9, 0), true),
		awayLog("10", d(4, 10, 0), false),
		awayLog("11", d(5, 8, 0), false),
		awayLog("11", d(5, 9, 0), true),
		awayLog("11", d(5, 9, 45), false),
		awayLog("12", d(5, 18, 0), true),
		{ActivityType: "admin_login_success", CreatedAt: d(5, 8, 0).Unix(), PerformedBy: intercom.Author{ID: "10"}},
	}

	cycles := testShaper().BuildAwayCycles(logs, d(5, 0, 0))
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d: %+v", len(cycles), cycles)
	}
	if cycles[0].Agent != "Ana" || cycles[0].Minutes != 90 || cycles[0].Hours != 1.5 {
		t.Fatalf("unexpected first cycle %+v", cycles[0])
	}
	if cycles[1].Agent != "Bruno" || cycles[1].Minutes != 45 || cycles[1].Day != "2024-03-05" {
		t.Fatalf("unexpected second cycle %+v", cycles[1])
	}
}

func TestBuildAwayCyclesCrossingRangeStart(t *testing.T) {
	logs := []intercom.ActivityLog{
		awayLog("10", time.Date(2024, 3, 4, 22, 0, 0, 0, brt), true),
		awayLog("10", time.Date(2024, 3, 5, 1, 0, 0, 0, brt), false),
	}
	cycles := testShaper().BuildAwayCycles(logs, time.Date(2024, 3, 5, 0, 0, 0, 0, brt))
	if len(cycles) != 1 || cycles[0].Hours != 3 {
		t.Fatalf("a cycle ending inside the range counts in full, got %+v", cycles)
	}
}

func TestSummarizeAway(t *testing.T) {
	cycles := []AwayCycle{
		{Agent: "Ana", Day: "2024-03-04", Minutes: 60, Hours: 1},
		{Agent: "Ana", Day: "2024-03-05", Minutes: 90, Hours: 1.5},
		{Agent: "Bruno", Day: "2024-03-05", Minutes: 180, Hours: 3},
	}

	all := SummarizeAway(cycles, nil)
	if len(all.Days) != 2 || all.Days[0] != "2024-03-04" {
		t.Fatalf("unexpected days %v", all.Days)
	}
	if all.Agents[0].Agent != "Bruno" || all.Agents[0].Hours != 3 {
		t.Fatalf("expected Bruno first by hours, got %+v", all.Agents)
	}
	if all.Agents[1].Hours != 2.5 {
		t.Fatalf("expected Ana 2.5h, got %+v", all.Agents[1])
	}
	if len(all.Chart) != 3 {
		t.Fatalf("expected 3 chart points, got %+v", all.Chart)
	}

	filtered := SummarizeAway(cycles, []string{"2024-03-04"})
	if len(filtered.Agents) != 1 || filtered.Agents[0].Agent != "Ana" || filtered.Agents[0].Minutes != 60 {
		t.Fatalf("unexpected filtered agents %+v", filtered.Agents)
	}
	if len(filtered.Days) != 2 {
		t.Fatalf("day options must not shrink with the filter, got %v", filtered.Days)
	}
}
