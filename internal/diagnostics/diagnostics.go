// Package diagnostics answers "what is this machine doing" questions by
// running read-only PowerShell queries on the host.
//
// Every query runs under its own deadline, and every failure comes back as
// a message for the user, never as a Go error.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// CPUWarnPercent is the CPU load above which a warning is added.
	CPUWarnPercent = 80.0

	// DiskWarnPercent is the volume usage at or above which a warning is added.
	DiskWarnPercent = 90.0

	// PingTarget is the host probed for Internet connectivity.
	PingTarget = "8.8.8.8"

	defaultTimeout = 5 * time.Second
	bytesPerGB     = 1 << 30
)

// Options configures a Diagnostics client.
type Options struct {
	Runner  CommandRunner
	Shell   string
	Timeout time.Duration
}

// Diagnostics runs system queries.
type Diagnostics struct {
	runner  CommandRunner
	shell   string
	timeout time.Duration
}

// New returns a Diagnostics client. Zero options select powershell, the
// os/exec runner and a five second per-query timeout.
func New(opts Options) *Diagnostics {
	d := &Diagnostics{runner: opts.Runner, shell: opts.Shell, timeout: opts.Timeout}
	if d.runner == nil {
		d.runner = execRunner{}
	}
	if d.shell == "" {
		d.shell = "powershell"
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	return d
}

const performanceScript = `$cpu = (Get-CimInstance Win32_Processor | Measure-Object -Property LoadPercentage -Average).Average
$os = Get-CimInstance Win32_OperatingSystem
$procs = @(Get-Process | Sort-Object CPU -Descending | Select-Object -First 5 Name, @{N='CPU';E={[math]::Round([double]$_.CPU,1)}}, @{N='MemoryMB';E={[math]::Round($_.WorkingSet64/1MB,1)}})
[pscustomobject]@{CPU=$cpu; TotalMemoryKB=$os.TotalVisibleMemorySize; FreeMemoryKB=$os.FreePhysicalMemory; Processes=$procs} | ConvertTo-Json -Depth 3 -Compress`

const diskScript = `ConvertTo-Json -Compress -InputObject @(Get-PSDrive -PSProvider FileSystem | Where-Object { $_.Used -ne $null } | Select-Object Name, Used, Free)`

const networkScript = `$adapters = @(Get-NetAdapter | Where-Object Status -eq 'Up' | Select-Object Name, InterfaceDescription, LinkSpeed)
$ping = Test-Connection -ComputerName ` + PingTarget + ` -Count 1 -Quiet
[pscustomobject]@{Adapters=$adapters; Internet=[bool]$ping} | ConvertTo-Json -Depth 3 -Compress`

type process struct {
	Name     string  `json:"Name"`
	CPU      float64 `json:"CPU"`
	MemoryMB float64 `json:"MemoryMB"`
}

type performance struct {
	CPU           float64   `json:"CPU"`
	TotalMemoryKB float64   `json:"TotalMemoryKB"`
	FreeMemoryKB  float64   `json:"FreeMemoryKB"`
	Processes     []process `json:"Processes"`
}

type volume struct {
	Name string  `json:"Name"`
	Used float64 `json:"Used"`
	Free float64 `json:"Free"`
}

func (v volume) total() float64 { return v.Used + v.Free }

func (v volume) usedPercent() float64 {
	if v.total() == 0 {
		return 0
	}
	return v.Used / v.total() * 100
}

type adapter struct {
	Name                 string `json:"Name"`
	InterfaceDescription string `json:"InterfaceDescription"`
	LinkSpeed            string `json:"LinkSpeed"`
}

type network struct {
	Adapters []adapter `json:"Adapters"`
	Internet bool      `json:"Internet"`
}

// run executes one script and decodes its JSON output into v. The returned
// string is empty on success and a user-facing error message otherwise.
func (d *Diagnostics) run(ctx context.Context, name, script string, v any) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	args := []string{"-NoProfile", "-NonInteractive", "-Command", script}
	output, err := d.runner.Run(ctx, d.shell, args, nil)
	duration := time.Since(start)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		slog.Warn("diagnostic query failed", "query", name, "ms", duration.Milliseconds(), "err", err,
			"output", strings.TrimSpace(output))
		return fmt.Sprintf("❌ Error al obtener %s: %s", name, diagnoseShellError(err, ctx.Err(), output))
	}

	if err := decodeJSON(output, v); err != nil {
		slog.Warn("diagnostic output not parseable", "query", name, "err", err, "output", strings.TrimSpace(output))
		return fmt.Sprintf("❌ Error al obtener %s: la respuesta del sistema no tiene el formato esperado.", name)
	}

	slog.Debug("diagnostic query ok", "query", name, "ms", duration.Milliseconds())
	return ""
}

// decodeJSON parses PowerShell JSON output, tolerating a BOM, surrounding
// noise lines and a bare object where an array was expected.
func decodeJSON(output string, v any) error {
	data := bytes.TrimSpace(bytes.TrimPrefix([]byte(output), []byte("\xef\xbb\xbf")))
	if i := bytes.IndexAny(data, "[{"); i > 0 {
		data = data[i:]
	}
	if len(data) == 0 {
		return fmt.Errorf("empty output")
	}

	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	// ConvertTo-Json emits a single object instead of a one-element array.
	if data[0] == '{' {
		wrapped := append(append([]byte{'['}, data...), ']')
		if json.Unmarshal(wrapped, v) == nil {
			return nil
		}
	}
	return err
}

// Performance reports CPU load, memory use and the top processes by CPU time.
func (d *Diagnostics) Performance(ctx context.Context) string {
	var p performance
	if msg := d.run(ctx, "el rendimiento del sistema", performanceScript, &p); msg != "" {
		return msg
	}

	var b strings.Builder
	b.WriteString("📊 **Rendimiento del sistema**\n\n")
	fmt.Fprintf(&b, "🖥️ CPU: %.0f%%\n", p.CPU)

	if p.TotalMemoryKB > 0 {
		usedKB := p.TotalMemoryKB - p.FreeMemoryKB
		fmt.Fprintf(&b, "💾 RAM: %.1f GB usados de %.1f GB (%.0f%%)\n",
			usedKB/(1<<20), p.TotalMemoryKB/(1<<20), usedKB/p.TotalMemoryKB*100)
	}

	if len(p.Processes) > 0 {
		b.WriteString("\n**Procesos con más consumo de CPU:**\n")
		for _, proc := range p.Processes {
			fmt.Fprintf(&b, "- %s: CPU %.1f s, memoria %.1f MB\n", proc.Name, proc.CPU, proc.MemoryMB)
		}
	}

	if p.CPU > CPUWarnPercent {
		fmt.Fprintf(&b, "\n⚠️ El uso de CPU supera el %.0f%%. Cierra las aplicaciones que no necesites o reinicia el equipo.\n", CPUWarnPercent)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Disk reports usage for every file-system volume.
func (d *Diagnostics) Disk(ctx context.Context) string {
	var vols []volume
	if msg := d.run(ctx, "el espacio en disco", diskScript, &vols); msg != "" {
		return msg
	}
	if len(vols) == 0 {
		return "💽 No se encontraron unidades de disco."
	}

	var b strings.Builder
	b.WriteString("💽 **Espacio en disco**\n\n")
	var full []string
	for _, v := range vols {
		pct := v.usedPercent()
		fmt.Fprintf(&b, "- Unidad %s: %.1f GB usados, %.1f GB libres de %.1f GB (%.0f%%)\n",
			v.Name, v.Used/bytesPerGB, v.Free/bytesPerGB, v.total()/bytesPerGB, pct)
		if pct >= DiskWarnPercent {
			full = append(full, v.Name)
		}
	}

	if len(full) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Las unidades %s están al %.0f%% o más. Libera espacio vaciando la papelera y los archivos temporales.\n",
			strings.Join(full, ", "), DiskWarnPercent)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Network reports active adapters and whether the Internet is reachable.
func (d *Diagnostics) Network(ctx context.Context) string {
	var n network
	if msg := d.run(ctx, "el estado de la red", networkScript, &n); msg != "" {
		return msg
	}

	var b strings.Builder
	b.WriteString("🌐 **Estado de la red**\n\n")
	if len(n.Adapters) == 0 {
		b.WriteString("No hay adaptadores de red activos.\n")
	} else {
		b.WriteString("**Adaptadores activos:**\n")
		for _, a := range n.Adapters {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.Name, a.InterfaceDescription, a.LinkSpeed)
		}
	}

	if n.Internet {
		fmt.Fprintf(&b, "\n✅ Conexión a Internet: OK (%s responde)\n", PingTarget)
	} else {
		fmt.Fprintf(&b, "\n❌ Sin conexión a Internet (%s no responde).\n\n", PingTarget)
		b.WriteString("Prueba lo siguiente:\n")
		b.WriteString("1. Comprueba que el cable de red está bien conectado.\n")
		b.WriteString("2. Si usas WiFi, desconéctate y vuelve a conectarte a la red.\n")
		b.WriteString("3. Revisa la configuración del proxy.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
