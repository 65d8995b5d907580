package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/audit"
	"github.com/umcneuro/cohanon/coh3"
	"github.com/umcneuro/cohanon/config"
	"github.com/umcneuro/cohanon/convert"
	"github.com/umcneuro/cohanon/fileutil"
	"github.com/umcneuro/cohanon/manifest"
	"github.com/umcneuro/cohanon/scrub"
	"github.com/umcneuro/cohanon/watch"
)

// version is overwritten at link time by the release build.
var version = "development"

var (
	configPath   = flag.String("config", "", "path to the configuration file")
	destRoot     = flag.String("dest", "", "root the anonymised copies land under (empty means in place)")
	nworkers     = flag.Int("workers", 0, "how many recordings to process at once")
	fieldList    = flag.String("fields", "", "comma separated header fields to blank (see the fields command)")
	redactAll    = flag.Bool("all", false, "blank every patient field")
	folderName   = flag.Bool("fn", false, "write the parent folder name into the name field")
	yes          = flag.Bool("y", false, "answer yes to every confirmation")
	converterExe = flag.String("converter", "", "path to the vendor EDF converter executable")
	convertAfter = flag.Bool("convert", false, "convert each recording to EDF after anonymising it")
	overwrite    = flag.Bool("o", false, "replace conversion outputs that already exist")
	sourceList   = flag.String("sources", "", "comma separated roots the dataset command searches, fastest first")
	exportTo     = flag.String("export", "", "location the finished dataset is delivered to (path or s3://...)")
	usage        = `
cohanon <command> [arguments]

Possible commands:
    anonymise [<source root>]

    convert [<source root>]

    dataset <worklist.xlsx>

    bag <dataset root> <bag.zip>

    watch [<folder>]

    show <recording list>

    fields

    runs

    files <run id>

    checks [<path>]

    import-config <legacy.json>

    submit <source root>

    jobs

    job <job id>

    cancel <job id>

    pause [on|off]

    version
`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	c, err := loadconfig()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	switch args[0] {
	case "anonymise":
		doanonymise(c, args[1:])
	case "convert":
		doconvert(c, args[1:])
	case "dataset":
		dodataset(c, args[1:])
	case "bag":
		dobag(args[1:])
	case "watch":
		dowatch(c, args[1:])
	case "show":
		doshow(args[1:])
	case "fields":
		dofields()
	case "runs":
		doruns(c)
	case "files":
		dofiles(c, args[1:])
	case "checks":
		dochecks(c, args[1:])
	case "import-config":
		doimportconfig(args[1:])
	case "submit":
		dosubmit(c, args[1:])
	case "jobs":
		dojobs()
	case "job":
		dojob(args[1:])
	case "cancel":
		docancel(args[1:])
	case "pause":
		dopause(args[1:])
	case "version":
		fmt.Printf("cohanon version %s\n", version)
	default:
		fmt.Printf("Unknown command %q\n", args[0])
		fmt.Println(usage)
	}
}

// loadconfig reads the configuration file, if any, and then lays the
// command line flags over it. Flags always win.
func loadconfig() (config.Config, error) {
	c := config.Default()
	if *configPath != "" {
		var err error
		c, err = config.Load(*configPath)
		if err != nil {
			return c, err
		}
	}
	if *destRoot != "" {
		c.DestRoot = *destRoot
	}
	if *nworkers > 0 {
		c.Workers = *nworkers
	}
	if *converterExe != "" {
		c.Converter = *converterExe
	}
	if *convertAfter {
		c.ConvertAfter = true
	}
	if *overwrite {
		c.Overwrite = true
	}
	if *sourceList != "" {
		c.Sources = splitlist(*sourceList)
	}
	if *exportTo != "" {
		c.Export = *exportTo
	}
	if *fieldList != "" {
		t, err := parsefields(*fieldList)
		if err != nil {
			return c, err
		}
		c.Fields = t
	}
	if *redactAll {
		c.Fields.RedactAll = true
	}
	if *folderName {
		c.Fields.NameFromFolder = true
	}
	// whatever is still unset falls back to the remembered preferences
	if p, err := config.LoadPrefs(prefspath()); err == nil {
		if c.SourceRoot == "" {
			c.SourceRoot = p.Source
		}
		if c.DestRoot == "" {
			c.DestRoot = p.Dest
		}
		if c.Converter == "" {
			c.Converter = p.Converter
		}
		if c.Fields == (scrub.Toggles{}) {
			c.Fields = p.Fields
		}
	}
	return c, nil
}

// prefspath is where the last-used roots and toggles are remembered
// between runs.
func prefspath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cohanon.ini")
}

// saveprefs remembers the settings of a run that got underway. An
// empty src keeps the previous one.
func saveprefs(c config.Config, src string) {
	path := prefspath()
	if path == "" {
		return
	}
	p, err := config.LoadPrefs(path)
	if err != nil {
		p = config.Prefs{}
	}
	if src != "" {
		p.Source = src
	}
	p.Dest = c.DestRoot
	if c.Converter != "" {
		p.Converter = c.Converter
	}
	p.Fields = c.Fields
	if err := p.Save(path); err != nil {
		fmt.Printf("Saving preferences: %s\n", err.Error())
	}
}

func doanonymise(c config.Config, args []string) {
	src := c.SourceRoot
	if len(args) > 0 {
		src = args[0]
	}
	if src == "" {
		fmt.Println("No source root given")
		return
	}
	tog := defaultall(c.Fields)

	if scrub.InPlace(src, c.DestRoot) {
		if !*yes && !confirm(fmt.Sprintf("This overwrites the recordings under %s in place. Continue?", src)) {
			return
		}
	} else {
		fmt.Printf("Writing anonymised copies under %s\n", c.DestRoot)
	}

	tasks, err := scrub.Plan(src, c.DestRoot, tog.Request(), c.ConvertAfter)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	runbatch(c, tasks, src)
	saveprefs(c, src)
}

// runbatch pushes the tasks through a worker pool, echoing each outcome
// to the terminal. When an audit database is configured the run is
// recorded there as well.
func runbatch(c config.Config, tasks []scrub.Task, sourceRoot string) {
	if len(tasks) == 0 {
		fmt.Println("No recordings found")
		return
	}

	var rec *audit.Recorder
	if db := opendb(c, false); db != nil {
		var err error
		rec, err = audit.NewRecorder(db, sourceRoot, c.DestRoot, c.Workers, len(tasks))
		if err != nil {
			fmt.Printf("Audit trail unavailable: %s\n", err.Error())
			rec = nil
		}
	}

	runner := scrub.NewRunner(c.Workers)
	runner.Overwrite = c.Overwrite
	if c.Converter != "" {
		runner.Converter = convert.Converter{
			Exe:     c.Converter,
			Timeout: time.Duration(c.ConvertTimeoutMinutes) * time.Minute,
		}
	}
	var failed int
	runner.Report = func(res scrub.Result) {
		if res.Err != nil {
			failed++
			fmt.Printf("%s: %s error: %s\n", res.Task.Source, scrub.StageOf(res.Err), res.Err.Error())
		} else {
			fmt.Println(res.Task.Dest)
		}
		if rec != nil {
			if err := rec.Record(res); err != nil {
				fmt.Printf("Audit trail: %s\n", err.Error())
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		fmt.Println("\nStopping, recordings already underway will finish")
		runner.Cancel()
	}()

	results := runner.Run(tasks)

	// tasks cut off before they started never reach Report
	cancelled := 0
	for _, res := range results {
		if !errors.Is(res.Err, scrub.ErrCancelled) {
			continue
		}
		cancelled++
		if rec != nil {
			rec.Record(res)
		}
	}
	if rec != nil {
		if err := rec.Finish(cancelled > 0); err != nil {
			fmt.Printf("Audit trail: %s\n", err.Error())
		}
	}
	fmt.Printf("Anonymised %d of %d recordings, %d failed, %d cancelled\n",
		len(results)-failed-cancelled, len(results), failed, cancelled)
}

func doconvert(c config.Config, args []string) {
	root := c.SourceRoot
	if len(args) > 0 {
		root = args[0]
	}
	if root == "" {
		fmt.Println("No source root given")
		return
	}
	if c.Converter == "" {
		fmt.Println("No converter executable configured (use -converter)")
		return
	}
	files, err := fileutil.ListRecordings(root)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	conv := convert.Converter{
		Exe:     c.Converter,
		Timeout: time.Duration(c.ConvertTimeoutMinutes) * time.Minute,
	}
	var failed, skipped int
	for _, f := range files {
		out := convert.DefaultOutput(f)
		if !c.Overwrite {
			if _, err := os.Stat(out); err == nil {
				skipped++
				continue
			}
		}
		if err := conv.Convert(f, out); err != nil {
			failed++
			fmt.Printf("%s: %s\n", f, err.Error())
			continue
		}
		fmt.Println(out)
	}
	fmt.Printf("Converted %d of %d recordings, %d failed, %d already there\n",
		len(files)-failed-skipped, len(files), failed, skipped)
	saveprefs(c, root)
}

func dodataset(c config.Config, args []string) {
	if len(args) == 0 {
		fmt.Println("No worklist given")
		return
	}
	if c.DestRoot == "" {
		fmt.Println("A dataset needs a destination root (use -dest)")
		return
	}
	wl, err := manifest.ReadWorklist(args[0])
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	roots := c.Sources
	if len(roots) == 0 && c.SourceRoot != "" {
		roots = []string{c.SourceRoot}
	}
	if len(roots) == 0 {
		fmt.Println("No sources to search (set sources in the config)")
		return
	}

	fmt.Printf("Searching %d sources for %d recordings\n", len(roots), len(wl.Entries))
	search := manifest.NewSearch(roots, c.Workers)
	plan := manifest.BuildPlan(wl, search, c.DestRoot, c.Fields.Request())
	for _, stem := range plan.Missing {
		fmt.Printf("Missing: %s\n", stem)
	}
	if len(plan.Tasks) == 0 {
		fmt.Println("Nothing to do")
		return
	}
	if !*yes && !confirm(fmt.Sprintf("Assemble %d recordings under %s?", len(plan.Tasks), c.DestRoot)) {
		return
	}
	runbatch(c, plan.Tasks, strings.Join(roots, ", "))
	saveprefs(c, "")

	if c.Export == "" {
		return
	}
	st, err := parselocation(c.Export)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	n, err := manifest.Deliver(st, c.DestRoot)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	fmt.Printf("Delivered %d files to %s\n", n, c.Export)
}

// dobag wraps a finished dataset into a BagIt zip for handoff.
func dobag(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: cohanon bag <dataset root> <bag.zip>")
		return
	}
	root, out := args[0], args[1]
	f, err := os.Create(out)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	name := strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
	err = manifest.WriteBag(f, root, name)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	fmt.Printf("Wrote %s\n", out)
}

func dowatch(c config.Config, args []string) {
	dir := c.SourceRoot
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		fmt.Println("No folder given")
		return
	}
	if c.DestRoot == "" {
		fmt.Println("Watching needs a destination root (use -dest)")
		return
	}
	tog := defaultall(c.Fields)

	w, err := watch.New(dir)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w.Dest = c.DestRoot
	w.Request = tog.Request()

	var rec *audit.Recorder
	if db := opendb(c, false); db != nil {
		rec, err = audit.NewRecorder(db, dir, c.DestRoot, 1, 0)
		if err != nil {
			fmt.Printf("Audit trail unavailable: %s\n", err.Error())
			rec = nil
		} else {
			w.Report = func(res scrub.Result) {
				if err := rec.Record(res); err != nil {
					fmt.Printf("Audit trail: %s\n", err.Error())
				}
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		w.Stop()
	}()

	fmt.Printf("Watching %s, anonymising into %s\n", dir, c.DestRoot)
	saveprefs(c, dir)
	err = w.Run()
	if rec != nil {
		rec.Finish(false)
	}
	if err != nil {
		fmt.Println(err.Error())
	}
}

func doshow(args []string) {
	if len(args) == 0 {
		fmt.Println("No files given")
		return
	}
	for i, path := range args {
		if i > 0 {
			fmt.Println("---")
		}
		h, err := readheader(path)
		if err != nil {
			fmt.Printf("%s: %s\n", path, err.Error())
			continue
		}
		fmt.Println("File:", path)
		w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
		for _, f := range coh3.Fields() {
			fmt.Fprintf(w, "%s:\t%s\n", f, h.Get(f))
		}
		w.Flush()
	}
}

func readheader(path string) (coh3.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return coh3.Header{}, err
	}
	defer f.Close()
	buf := make([]byte, coh3.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return coh3.Header{}, err
	}
	return coh3.ReadHeader(buf)
}

func dofields() {
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "FIELD\tOFFSET\tWIDTH\n")
	for _, f := range coh3.Fields() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", f, f.Offset(), f.Width())
	}
	w.Flush()
}

func doruns(c config.Config) {
	db := opendb(c, true)
	if db == nil {
		return
	}
	runs, err := db.Runs(50)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "ID\tSTARTED\tSTATUS\tOK\tFAILED\tCANCELLED\tSOURCE\n")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, fmttime(r.Started), r.Status, r.Succeeded, r.Failed, r.Cancelled, r.SourceRoot)
	}
	w.Flush()
}

func dofiles(c config.Config, args []string) {
	if len(args) == 0 {
		fmt.Println("No run id given")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Bad run id %q\n", args[0])
		return
	}
	db := opendb(c, true)
	if db == nil {
		return
	}
	files, err := db.Files(id)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "PROCESSED\tSOURCE\tRESULT\n")
	for _, f := range files {
		result := "ok"
		if f.Note != "" {
			result = f.Stage + ": " + f.Note
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", fmttime(f.Processed), f.Source, result)
	}
	w.Flush()
}

func dochecks(c config.Config, args []string) {
	db := opendb(c, true)
	if db == nil {
		return
	}
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	checks, err := db.SearchChecks(path)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "ID\tSCHEDULED\tSTATUS\tPATH\n")
	for _, ck := range checks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ck.ID, fmttime(ck.Scheduled), ck.Status, ck.Path)
	}
	w.Flush()
}

func doimportconfig(args []string) {
	if len(args) == 0 {
		fmt.Println("No legacy config given")
		return
	}
	out := *configPath
	if out == "" {
		out = "cohanon.toml"
	}
	c, err := config.ImportLegacy(args[0])
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	if err := config.Save(out, c); err != nil {
		fmt.Println(err.Error())
		return
	}
	fmt.Printf("Wrote %s\n", out)
}

// opendb opens whichever audit database the configuration names, or
// returns nil when none is set up. Batch commands keep going without a
// trail; the query commands need one and say so.
func opendb(c config.Config, required bool) audit.DB {
	var (
		db  audit.DB
		err error
	)
	switch {
	case c.AuditMySQL != "":
		db, err = audit.NewMySQL(c.AuditMySQL)
	case c.AuditQL != "":
		db, err = audit.NewQL(c.AuditQL)
	default:
		if required {
			fmt.Println("No audit database configured (set audit_ql or audit_mysql)")
		}
		return nil
	}
	if err != nil {
		fmt.Printf("Opening audit database: %s\n", err.Error())
		return nil
	}
	return db
}

// defaultall blankets every field when no toggle was chosen anywhere.
func defaultall(t scrub.Toggles) scrub.Toggles {
	if t == (scrub.Toggles{}) {
		fmt.Println("No fields selected, blanking all of them")
		t.RedactAll = true
	}
	return t
}

// parsefields maps a comma separated field listing onto toggles.
func parsefields(list string) (scrub.Toggles, error) {
	var t scrub.Toggles
	for _, name := range splitlist(list) {
		f, ok := coh3.FieldByName(name)
		if !ok {
			return t, errors.Errorf("unknown header field %q", name)
		}
		switch f {
		case coh3.Name:
			t.Name = true
		case coh3.Surname:
			t.Surname = true
		case coh3.Birthdate:
			t.Birthdate = true
		case coh3.Sex:
			t.Sex = true
		case coh3.Folder:
			t.Folder = true
		case coh3.Centre:
			t.Centre = true
		case coh3.Comment:
			t.Comment = true
		}
	}
	return t, nil
}

func splitlist(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// confirm asks on the terminal. Only an explicit yes goes ahead.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	fmt.Println("Nothing done")
	return false
}

// fmttime renders database timestamps without the sub second noise.
func fmttime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
