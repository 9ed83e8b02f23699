package main

import (
	"fmt"
	"os"

	"nuke-rewards/internal/features/tg_charts"
)

// go run etc/tools/test_chart.go
// in etc/charts/rewards_chart.png
func main() {
	fmt.Println("Generating test chart...")

	days := []tg_charts.DayTotal{
		{Label: "Mon", SOL: 1.2},
		{Label: "Tue", SOL: 0.8},
		{Label: "Wed", SOL: 2.45},
		{Label: "Thu", SOL: 0},
		{Label: "Fri", SOL: 1.75},
		{Label: "Sat", SOL: 3.1},
		{Label: "Sun", SOL: 0.95},
	}
	var total float64
	for _, d := range days {
		total += d.SOL
	}

	chartPath, err := tg_charts.GenerateDistributionChart(days, days[len(days)-1].SOL, total/float64(len(days)), "etc/charts")
	if err != nil {
		fmt.Printf("Error generating chart: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chart generated successfully: %s\n", chartPath)
	fmt.Println("Open the file to see the result!")
}
