package workflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
)

const SystemLogFile = "scoreserver.log"

type executionResponse struct {
	Status  int    `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Execute uploads csvFile to the scoring service and returns the test id
// of the scoring job it started.
func (w *Workflow) Execute(ctx context.Context, serviceURL string, csvFile string) (string, error) {
	w.printf("Performing scoring in the container instance...\n")
	f, err := os.Open(csvFile)
	if err != nil {
		return "", errors.NewParameterInvalidError(fmt.Sprintf("test data file %s does not exist", csvFile))
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(csvFile))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	url := serviceURLJoin(serviceURL, "executions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := w.httpClient().Do(req)
	if err != nil {
		pr.Close()
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", errors.NewRemoteAPIError(resp.StatusCode, http.MethodPost, url, string(body))
	}
	result := executionResponse{}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode execution response: %w", err)
	}
	if result.ID == "" {
		return "", errors.NewRemoteAPIError(resp.StatusCode, http.MethodPost, url, "no test id in response")
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("execution created", "id", result.ID)
	w.printf("The test_id from score execution: %s\n", result.ID)

	input := filepath.Join(w.logsDir(), result.ID+"_input.csv")
	if err := os.MkdirAll(w.logsDir(), 0o755); err != nil {
		return "", err
	}
	if err := modelpkg.CopyFile(csvFile, input); err != nil {
		return "", err
	}
	w.guide("> modelimage query " + serviceURL + " " + result.ID)
	w.record("execute", serviceURL, input, result.ID)
	return result.ID, nil
}

// Query downloads the result of test id into logs/<id>.csv. A result not yet
// written by the scoring job is reported as a not found error.
func (w *Workflow) Query(ctx context.Context, serviceURL string, testID string) (string, error) {
	file, err := w.download(ctx, serviceURLJoin(serviceURL, "query", testID+".csv"), testID+".csv")
	if err != nil {
		if errors.IsErrCode(err, errors.ErrCodeNotFound) {
			w.printf("The test result is not available in the container instance.\n")
			w.printf("Please retrieve and inspect the execution log or system log.\n")
		}
		return "", err
	}
	return w.showResult(serviceURL, testID, file)
}

func (w *Workflow) showResult(serviceURL, testID, file string) (string, error) {
	w.printf("The test result has been retrieved and written into file %s\n", file)
	w.printf("Showing the first %d lines\n=========================\n", w.Options.PreviewLines)
	if err := w.head(file, w.Options.PreviewLines); err != nil {
		return "", err
	}
	w.stopGuide()
	w.record("query", serviceURL, testID, file)
	return file, nil
}

// ScoreLog downloads the execution log of test id into logs/<id>.log.
func (w *Workflow) ScoreLog(ctx context.Context, serviceURL string, testID string) (string, error) {
	file, err := w.download(ctx, serviceURLJoin(serviceURL, "query", testID, "log"), testID+".log")
	if err != nil {
		if errors.IsErrCode(err, errors.ErrCodeNotFound) {
			w.printf("The execution log is not available in the container instance.\n")
		}
		return "", err
	}
	w.printf("The execution log has been retrieved and written into file %s\n", file)
	w.printf("Showing the first %d lines\n=========================\n", w.Options.PreviewLines)
	if err := w.head(file, w.Options.PreviewLines); err != nil {
		return "", err
	}
	w.stopGuide()
	w.record("scorelog", serviceURL, testID, file)
	return file, nil
}

// SystemLog downloads the access log of the scoring service into logs/scoreserver.log.
func (w *Workflow) SystemLog(ctx context.Context, serviceURL string) (string, error) {
	logr.FromContextOrDiscard(ctx).V(1).Info("retrieving system log", "service", serviceURL)
	file, err := w.download(ctx, serviceURLJoin(serviceURL, "system", "log"), SystemLogFile)
	if err != nil {
		return "", err
	}
	w.printf("The system log has been retrieved and written into file %s\n", file)
	w.printf("Displaying the last %d lines\n", w.Options.PreviewLines)
	if err := w.tail(file, w.Options.PreviewLines); err != nil {
		return "", err
	}
	w.record("systemlog", serviceURL, file)
	return file, nil
}

// Score launches imageURL, scores csvFile and fetches the result. The
// deployment is always stopped once it was launched.
func (w *Workflow) Score(ctx context.Context, imageURL string, csvFile string) (result string, err error) {
	deployment, err := w.Launch(ctx, imageURL)
	if err != nil {
		return "", err
	}
	defer func() {
		w.printf("===============================\n")
		if stoperr := w.Stop(ctx, deployment.Name); stoperr != nil && err == nil {
			err = stoperr
		}
	}()
	w.printf("===============================\n")
	testID, err := w.Execute(ctx, deployment.ServiceURL, csvFile)
	if err != nil {
		return "", err
	}
	w.printf("===============================\n")
	return w.WaitQuery(ctx, deployment.ServiceURL, testID)
}

// WaitQuery polls Query until the scoring job wrote its result.
func (w *Workflow) WaitQuery(ctx context.Context, serviceURL, testID string) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	interval := w.Options.QueryInterval
	if interval <= 0 {
		interval = DefaultOptions().QueryInterval
	}
	attempts := uint(w.Options.QueryTimeout/interval) + 1
	var file string
	err := retry.Do(
		func() error {
			var err error
			file, err = w.download(ctx, serviceURLJoin(serviceURL, "query", testID+".csv"), testID+".csv")
			if errors.IsErrCode(err, errors.ErrCodeNotFound) {
				if status := w.jobStatus(ctx, serviceURL, testID); status != "" {
					return errors.NewScoringFailedError(testID, status)
				}
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.IsErrCode(err, errors.ErrCodeNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.V(1).Info("waiting for result", "id", testID, "attempt", n+1)
		}),
	)
	if err != nil {
		if errors.IsErrCode(err, errors.ErrCodeScoringFailed) {
			w.printf("The scoring job did not complete. Please inspect the execution log:\n")
			w.printf("> modelimage scorelog %s %s\n", serviceURL, testID)
		}
		if errors.IsErrCode(err, errors.ErrCodeNotFound) {
			return "", errors.NewTimeoutError(fmt.Sprintf("result of %s not available within %s", testID, w.Options.QueryTimeout))
		}
		return "", err
	}
	return w.showResult(serviceURL, testID, file)
}

// jobStatus returns the last line of the execution log of testID when the
// scoring job ended with "Failed:" or "Canceled:", and "" otherwise.
func (w *Workflow) jobStatus(ctx context.Context, serviceURL, testID string) string {
	file, err := w.download(ctx, serviceURLJoin(serviceURL, "query", testID, "log"), testID+".log")
	if err != nil {
		return ""
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(last, "Failed:") || strings.HasPrefix(last, "Canceled:") {
		return last
	}
	return ""
}

// download writes the body of url into logs/name. 404 answers are not found errors.
func (w *Workflow) download(ctx context.Context, url string, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.NewNotFoundError(fmt.Sprintf("%s is not available", url))
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.NewRemoteAPIError(resp.StatusCode, http.MethodGet, url, string(body))
	}
	if err := os.MkdirAll(w.logsDir(), 0o755); err != nil {
		return "", err
	}
	file := filepath.Join(w.logsDir(), name)
	f, err := os.Create(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return file, nil
}

func (w *Workflow) head(file string, n int) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for i := 0; i < n && scanner.Scan(); i++ {
		w.printf("%s\n", strings.TrimSpace(scanner.Text()))
	}
	return scanner.Err()
}

func (w *Workflow) tail(file string, n int) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		w.printf("%s\n", line)
	}
	return nil
}

func (w *Workflow) stopGuide() {
	w.guide(
		"1) remember to stop instance after usage. You can find the deployment name by running",
		"    > kubectl get deployment",
		"Then execute: > modelimage stop <deployment_name>",
		"2) if result file includes error message, you could find the pod name and debug inside the instance as below",
		"    > kubectl get pod",
		"    > kubectl exec -it <pod name> -- /bin/bash",
	)
}

func serviceURLJoin(serviceURL string, elem ...string) string {
	return strings.TrimRight(serviceURL, "/") + "/" + strings.Join(elem, "/")
}
