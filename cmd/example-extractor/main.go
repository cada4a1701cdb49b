// Package main is a reference extractor. It opens a manager session, logs
// its progress through the mirrored logger, uploads a CSV and closes the
// session.
//
// The manager endpoint and API key come from MANAGER_ENDPOINT and
// MANAGER_API_KEY.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/epimonitor/manager/pkg/client"
	"github.com/epimonitor/manager/pkg/types"
)

const appName = "example-extractor"

// person is one row of the example dataset.
type person struct {
	Name  string
	Age   int
	Job   string
	Fruit string
}

var people = []person{
	{"Maria", 21, "Data Engineer", "Banana"},
	{"John", 25, "Software Developer", "Apple"},
	{"Alice", 30, "Product Manager", "Mango"},
	{"Bob", 22, "Data Analyst", "Orange"},
	{"Diana", 28, "UX Designer", "Grapes"},
	{"Eve", 35, "Systems Administrator", "Pineapple"},
	{"Charlie", 27, "DevOps Engineer", "Strawberry"},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := client.NewFromEnv(ctx, appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	status := types.StatusCompleted
	if err := run(ctx, mgr, "TestOrganization", "TestProject"); err != nil {
		mgr.Logger().Error("extraction failed", "error", err)
		status = types.StatusFinishedWithErrors
	}
	if _, err := mgr.CloseSession(ctx, status); err != nil {
		fmt.Fprintf(os.Stderr, "%s: close session: %v\n", appName, err)
		os.Exit(1)
	}
}

// run extracts the dataset and uploads it for organization and project.
func run(ctx context.Context, mgr *client.Interface, organization, project string) error {
	log := mgr.Logger()

	log.Info("extracting data", "source", "example-file.csv")
	data, err := encodeCSV(people)
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	log.Info("finished extraction", "rows", len(people), "bytes", len(data))
	log.Warn("this is a WARNING example")

	log.Info("uploading", "file", "example-file.csv", "session_id", mgr.SessionID(),
		"organization", organization, "project", project)
	if _, err := mgr.UploadFile(ctx, organization, project, bytes.NewReader(data), "example-file.csv"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Info("finished pipeline")
	return nil
}

func encodeCSV(rows []person) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Name", "Age", "Job Title", "Favorite Fruit"}); err != nil {
		return nil, err
	}
	for _, p := range rows {
		if err := w.Write([]string{p.Name, strconv.Itoa(p.Age), p.Job, p.Fruit}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
