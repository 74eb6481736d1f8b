package hostinfo

import (
	"bytes"
	"context"
	"encoding/xml"
	"os/exec"
	"strconv"
	"strings"
)

// GPUSample contains the subset of nvidia-smi fields recorded with a run.
type GPUSample struct {
	Name       string
	Index      int
	Driver     string
	MemTotalMB float64
	PowerLimit float64
}

// Minimal XML mapping for nvidia-smi -x -q
type smiLog struct {
	XMLName       xml.Name `xml:"nvidia_smi_log"`
	DriverVersion string   `xml:"driver_version"`
	GPU           smiGPU   `xml:"gpu"`
}

type smiGPU struct {
	ProductName string      `xml:"product_name"`
	MinorNumber string      `xml:"minor_number"`
	FBMem       smiFBMemory `xml:"fb_memory_usage"`
	Power       smiPower    `xml:"gpu_power_readings"`
	LegacyPower smiPower    `xml:"power_readings"`
}

type smiFBMemory struct {
	Total string `xml:"total"`
}

type smiPower struct {
	Limit string `xml:"power_limit"`
}

func hasTool(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// parseUnitFloat reads the leading number of values like "8192 MiB" or
// "250.00 W". Unparsable values yield 0.
func parseUnitFloat(s, unit string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, unit)
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	fields := strings.Fields(s)
	if len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return v
		}
	}
	return 0
}

func decodeNvidiaSMIXML(b []byte, device int) (GPUSample, error) {
	var log smiLog
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(&log); err != nil {
		return GPUSample{}, err
	}
	gpu := log.GPU
	limit := gpu.Power.Limit
	if strings.TrimSpace(limit) == "" {
		limit = gpu.LegacyPower.Limit
	}
	return GPUSample{
		Name:       strings.TrimSpace(gpu.ProductName),
		Index:      device,
		Driver:     strings.TrimSpace(log.DriverVersion),
		MemTotalMB: parseUnitFloat(gpu.FBMem.Total, "MiB"),
		PowerLimit: parseUnitFloat(limit, "W"),
	}, nil
}

// sampleNvidiaSMIXML executes a single nvidia-smi -x -q and parses it.
func sampleNvidiaSMIXML(ctx context.Context, device int) (GPUSample, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "-x", "-q", "-i", strconv.Itoa(device))
	b, err := cmd.Output()
	if err != nil {
		return GPUSample{}, err
	}
	return decodeNvidiaSMIXML(b, device)
}
