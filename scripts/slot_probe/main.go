// Command slot_probe sweeps the availability endpoint over a range of dates
// and reports empty days, latency and non-deterministic responses. Intended
// for smoke-checking a deployment after availability or data changes.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type probe struct {
	Date          string
	Status        int
	Slots         int
	Duration      time.Duration
	Deterministic bool
	Error         error
}

func main() {
	var (
		base     string
		token    string
		zone     string
		start    string
		days     int
		duration int
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token for the API")
	flag.StringVar(&zone, "zone", "UTC", "Viewer zone for the probe")
	flag.StringVar(&start, "start", time.Now().UTC().Format("2006-01-02"), "First date to probe (YYYY-MM-DD)")
	flag.IntVar(&days, "days", 7, "Number of consecutive days to probe")
	flag.IntVar(&duration, "duration", 60, "Lesson duration in minutes")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	anchor, err := time.Parse("2006-01-02", start)
	if err != nil {
		log.Fatalf("invalid start date: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		probes   []probe
		failures int
		empty    int
	)

	for i := 0; i < days; i++ {
		date := anchor.AddDate(0, 0, i).Format("2006-01-02")
		p := probeDate(client, base, token, date, zone, duration)
		if p.Error != nil || p.Status != http.StatusOK || !p.Deterministic {
			failures++
		}
		if p.Error == nil && p.Status == http.StatusOK && p.Slots == 0 {
			empty++
		}
		probes = append(probes, p)
	}

	printReport(probes)

	fmt.Printf("Failures: %d, Empty days: %d\n", failures, empty)
	if failures > 0 {
		os.Exit(1)
	}
}

func probeDate(client *http.Client, base, token, date, zone string, duration int) probe {
	p := probe{Date: date}

	first, elapsed, err := fetchSlots(client, base, token, date, zone, duration)
	p.Duration = elapsed
	if err != nil {
		p.Error = err
		return p
	}
	p.Status = first.status
	p.Slots = len(first.slots)

	if first.status != http.StatusOK {
		return p
	}

	// A second read with unchanged inputs must return the same slots.
	second, _, err := fetchSlots(client, base, token, date, zone, duration)
	if err != nil {
		p.Error = fmt.Errorf("repeat request failed: %w", err)
		return p
	}
	p.Deterministic = second.status == first.status && bytes.Equal(first.raw, second.raw)
	return p
}

type slotsResult struct {
	status int
	slots  []string
	raw    []byte
}

func fetchSlots(client *http.Client, base, token, date, zone string, duration int) (slotsResult, time.Duration, error) {
	query := url.Values{}
	query.Set("date", date)
	query.Set("zone", zone)
	query.Set("duration", fmt.Sprintf("%d", duration))
	endpoint := strings.TrimRight(base, "/") + "/api/v1/availability/slots?" + query.Encode()

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return slotsResult{}, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return slotsResult{}, 0, err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return slotsResult{}, elapsed, err
	}

	result := slotsResult{status: resp.StatusCode, raw: body}
	if resp.StatusCode == http.StatusOK {
		var envelope struct {
			Data struct {
				Slots []string `json:"slots"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return result, elapsed, fmt.Errorf("decode response for %s: %w", date, err)
		}
		result.slots = envelope.Data.Slots
	}
	return result, elapsed, nil
}

func printReport(probes []probe) {
	fmt.Println("Slot Probe Report")
	fmt.Println("=================")
	for _, p := range probes {
		status := "OK"
		switch {
		case p.Error != nil:
			status = "ERROR"
		case p.Status != http.StatusOK:
			status = "HTTP"
		case !p.Deterministic:
			status = "DRIFT"
		case p.Slots == 0:
			status = "EMPTY"
		}
		fmt.Printf("[%s] %s\n", status, p.Date)
		if p.Error != nil {
			fmt.Printf("  Error: %v\n", p.Error)
			continue
		}
		fmt.Printf("  Status: %d | Slots: %d | Latency: %s | Deterministic: %t\n", p.Status, p.Slots, p.Duration, p.Deterministic)
	}
}
