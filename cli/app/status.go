package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/ansiterm/tabwriter"

	"github.com/evalforge/evalforge/httpapi"
)

// Status fetches and pretty-prints the status of a running worker or
// server using the same tabwriter.Writer layout a task runner's CLI uses
// for its own task/variable listings, fed from a live HTTP call instead of
// a parsed config file.
func (a *App) Status(addr string) error {
	kind := a.Options.StatusKind
	if kind == "" {
		kind = "worker"
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	titleStyle := color.New(color.FgHiWhite, color.Bold)
	writer := tabwriter.NewWriter(a.Stdout, 0, 8, 1, '\t', tabwriter.AlignRight)

	switch kind {
	case "worker":
		var status httpapi.WorkerStatus
		if err := getJSON(addr+"/status", &status); err != nil {
			return err
		}
		fmt.Fprintf(a.Stdout, "Worker status at %s:\n", addr)
		titleStyle.Fprintln(writer, "Cores\tInUse\tPending")
		fmt.Fprintf(writer, "%d\t%d\t%d\n", status.NumCores, status.CoresUsed, status.Pending)
	case "server":
		var workers, queue httpapi.ServerStatus
		if err := getJSON(addr+"/workers", &workers); err != nil {
			return err
		}
		if err := getJSON(addr+"/queue", &queue); err != nil {
			return err
		}
		fmt.Fprintf(a.Stdout, "Server status at %s:\n", addr)
		titleStyle.Fprintln(writer, "IdleWorkers\tPendingRequests")
		fmt.Fprintf(writer, "%d\t%d\n", workers.IdleWorkers, queue.PendingRequests)
	default:
		return fmt.Errorf("app: unknown status kind %q, want \"worker\" or \"server\"", kind)
	}

	return writer.Flush()
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("app: status request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("app: status request to %s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
