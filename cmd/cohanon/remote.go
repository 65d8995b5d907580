package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/config"
)

var (
	serverURL = flag.String("server", "localhost:14000", "cohanond server to use")
	apiToken  = flag.String("token", "", "API key sent with every request")
)

// A connection talks to a running cohanond. It can be shared between
// goroutines.
type connection struct {
	hostURL string
	token   string
}

func newconnection() *connection {
	u := *serverURL
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return &connection{hostURL: u, token: *apiToken}
}

func (c *connection) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.hostURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Api-Key", c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// submit posts a new job and returns its location on the server.
func (c *connection) submit(body interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := c.do("POST", "/jobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 202 {
		return "", errors.Errorf("server returned %s", resp.Status)
	}
	return resp.Header.Get("Location"), nil
}

func (c *connection) jobs() ([]*jason.Object, error) {
	v, err := c.getjson("/jobs")
	if err != nil {
		return nil, err
	}
	values, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []*jason.Object
	for _, value := range values {
		obj, err := value.Object()
		if err != nil {
			return nil, err
		}
		result = append(result, obj)
	}
	return result, nil
}

func (c *connection) job(id string) (*jason.Object, error) {
	v, err := c.getjson("/jobs/" + id)
	if err != nil {
		return nil, err
	}
	return v.Object()
}

func (c *connection) cancel(id string) error {
	resp, err := c.do("POST", "/jobs/"+id+"/cancel", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 202 {
		return errors.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (c *connection) pause(state string) error {
	resp, err := c.do("PUT", "/admin/pause/"+state, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 201 {
		return errors.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (c *connection) paused() (string, error) {
	resp, err := c.do("GET", "/admin/pause", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", errors.Errorf("server returned %s", resp.Status)
	}
	data, err := ioutil.ReadAll(resp.Body)
	return strings.TrimSpace(string(data)), err
}

func (c *connection) getjson(path string) (*jason.Value, error) {
	resp, err := c.do("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, errors.Errorf("server returned %s", resp.Status)
	}
	return jason.NewValueFromReader(resp.Body)
}

// dosubmit hands a source root to the server instead of anonymising it
// here. Destination, fields, and conversion follow the local flags.
func dosubmit(c config.Config, args []string) {
	if len(args) == 0 {
		fmt.Println("No source root given")
		return
	}
	body := map[string]interface{}{
		"source_root": args[0],
		"dest_root":   c.DestRoot,
		"fields":      defaultall(c.Fields),
		"convert":     c.ConvertAfter,
	}
	loc, err := newconnection().submit(body)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	fmt.Println("Submitted", loc)
}

func dojobs() {
	jobs, err := newconnection().jobs()
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "ID\tSTATUS\tDONE\tTOTAL\tSOURCE\n")
	for _, j := range jobs {
		id, _ := j.GetInt64("id")
		status, _ := j.GetString("status")
		done, _ := j.GetInt64("done")
		total, _ := j.GetInt64("total")
		source, _ := j.GetString("source_root")
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", id, status, done, total, source)
	}
	w.Flush()
}

func dojob(args []string) {
	if len(args) == 0 {
		fmt.Println("No job id given")
		return
	}
	j, err := newconnection().job(args[0])
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	for _, key := range []string{"id", "status", "source_root", "dest_root",
		"submitted", "started", "finished", "total", "done",
		"succeeded", "failed", "cancelled", "run_id", "error"} {
		v, err := j.GetValue(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s:\t%v\n", key, v.Interface())
	}
	w.Flush()
}

func docancel(args []string) {
	if len(args) == 0 {
		fmt.Println("No job id given")
		return
	}
	if err := newconnection().cancel(args[0]); err != nil {
		fmt.Println(err.Error())
		return
	}
	fmt.Println("Cancel requested")
}

func dopause(args []string) {
	conn := newconnection()
	if len(args) == 0 {
		state, err := conn.paused()
		if err != nil {
			fmt.Println(err.Error())
			return
		}
		fmt.Println(state)
		return
	}
	switch args[0] {
	case "on", "off":
		if err := conn.pause(args[0]); err != nil {
			fmt.Println(err.Error())
			return
		}
		fmt.Println("Job intake now", args[0])
	default:
		fmt.Printf("Unknown state %q, use on or off\n", args[0])
	}
}
