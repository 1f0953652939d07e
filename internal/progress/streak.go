package progress

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Streak reports consecutive study days.
type Streak struct {
	Current        int `json:"current"`
	Longest        int `json:"longest"`
	TotalActive    int `json:"total_active_days"`
	LastSevenDays  int `json:"last_7_days_active"`
	LastThirtyDays int `json:"last_30_days_active"`
}

// Streak computes study streaks from the daily activity log. The current
// streak must include today or yesterday.
func (s *Store) Streak(now time.Time) Streak {
	s.mu.Lock()
	days := make([]time.Time, 0, len(s.data.DailyActivity))
	active := make(map[string]bool, len(s.data.DailyActivity))
	for k, n := range s.data.DailyActivity {
		if n <= 0 {
			continue
		}
		d, err := time.Parse(dateLayout, k)
		if err != nil {
			continue
		}
		days = append(days, d)
		active[k] = true
	}
	s.mu.Unlock()
	return computeStreak(days, active, now)
}

func computeStreak(days []time.Time, active map[string]bool, now time.Time) Streak {
	st := Streak{TotalActive: len(days)}
	if len(days) == 0 {
		return st
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	run := 1
	st.Longest = 1
	for i := 1; i < len(days); i++ {
		if days[i].Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > st.Longest {
			st.Longest = run
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today
	if !active[today.Format(dateLayout)] {
		start = today.AddDate(0, 0, -1)
	}
	for d := start; active[d.Format(dateLayout)]; d = d.AddDate(0, 0, -1) {
		st.Current++
	}

	for i := 0; i < 30; i++ {
		if active[today.AddDate(0, 0, -i).Format(dateLayout)] {
			if i < 7 {
				st.LastSevenDays++
			}
			st.LastThirtyDays++
		}
	}
	return st
}
