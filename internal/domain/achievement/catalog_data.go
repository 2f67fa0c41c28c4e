package achievement

import "fmt"

// defaultTables is the built-in threshold data.
func defaultTables() map[Category][]Definition {
	return map[Category][]Definition{
		CategoryDailySteps: {
			badge(3000, "First Footprint"),
			badge(7000, "Step Warrior"),
			badge(10000, "Pace Master"),
			badge(14000, "Stride Champion"),
			badge(20000, "Trail Blazer"),
			badge(30000, "Step Titan"),
			badge(40000, "Endurance Hero"),
			badge(60000, "Legend Walker"),
		},
		CategoryTotalDays:     daysTable(7, 14, 30, 60, 100, 180, 365, 500, 1000),
		CategoryTotalDistance: {
			distance(3, "Mini Trekker"),
			distance(5, "Path Seeker"),
			distance(12, "Journey Maker"),
			distance(26, "Marathoner"),
			distance(60, "Road Challenger"),
			distance(135, "City Connector"),
			distance(280, "Continent Strider"),
			distance(500, "Desert Voyager"),
			distance(1200, "Country Crawler"),
			distance(3950, "World Wanderer"),
		},
		CategoryLevel: levelTable(
			0, 10000, 50000, 100000, 170000, 220000, 330000, 440000, 550000, 660000,
			770000, 880000, 990000, 1100000, 1200000, 1300000, 1400000, 1500000, 1600000, 2000000,
		),
	}
}

func badge(steps int, title string) Definition {
	k := steps / 1000
	return Definition{
		Threshold:   float64(steps),
		Title:       title,
		UnlockImage: fmt.Sprintf("badge%dkUnlock", k),
		LockImage:   fmt.Sprintf("badge%dkLock", k),
	}
}

func distance(km int, title string) Definition {
	return Definition{
		Threshold:   float64(km),
		Title:       title,
		UnlockImage: fmt.Sprintf("miles%dUnlock", km),
		LockImage:   fmt.Sprintf("miles%dLock", km),
	}
}

func daysTable(days ...int) []Definition {
	out := make([]Definition, 0, len(days))
	for _, d := range days {
		out = append(out, Definition{
			Threshold:   float64(d),
			Title:       fmt.Sprintf("%d Days", d),
			UnlockImage: fmt.Sprintf("days%dUnlock", d),
			LockImage:   fmt.Sprintf("days%dLock", d),
		})
	}
	return out
}

// levelTable numbers levels from 1 in the order given.
// Level 1 (threshold 0) is titled "Start", the rest "{N}k Steps".
func levelTable(thresholds ...int) []Definition {
	out := make([]Definition, 0, len(thresholds))
	for i, t := range thresholds {
		level := i + 1
		title := "Start"
		if t > 0 {
			title = fmt.Sprintf("%dk Steps", t/1000)
		}
		img := fmt.Sprintf("LV_%d", level)
		out = append(out, Definition{
			Threshold:   float64(t),
			Title:       title,
			Level:       level,
			UnlockImage: img,
			LockImage:   img,
		})
	}
	return out
}
