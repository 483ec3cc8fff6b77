package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/internal/concurrency"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

const (
	zoneFlag      = "zone"
	labelFlag     = "label"
	setFlag       = "set"
	privateFlag   = "private"
	fileFlag      = "file"
	urlFlag       = "url"
	batchSizeFlag = "batch-size"
	pageSizeFlag  = "page-size"
)

// NewZoneCommand returns the command group for managing local zone records.
func NewZoneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zone",
		Short: "Manage the records stored in local zones",
	}

	cmd.AddCommand(newZoneAddCommand())
	cmd.AddCommand(newZoneListCommand())
	cmd.AddCommand(newZoneImportCommand())

	return cmd
}

func newZoneAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a record to a zone",
		Long: `Add a record to a zone without disturbing the records already stored there.

A delegate record is added with --capability and always lands at the apex of
the capability subject's zone. A delegation set record is added with --set
under --label; each --set occurrence is one OR alternative, and within a set
the comma-separated subjects must all hold their part for the set to apply.`,
		RunE:         runZoneAdd,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(zoneFlag, flags.Lookup(zoneFlag))
			util.MustBindPFlag(labelFlag, flags.Lookup(labelFlag))
			util.MustBindPFlag(capabilityFlag, flags.Lookup(capabilityFlag))
			util.MustBindPFlag(setFlag, flags.Lookup(setFlag))
			util.MustBindPFlag(privateFlag, flags.Lookup(privateFlag))
			util.MustBindPFlag(expiresInFlag, flags.Lookup(expiresInFlag))
			bindDatastoreFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(zoneFlag, "", "the public key of the zone to add the record to")
	flags.String(labelFlag, "", "the label to store a delegation set record under")
	flags.String(capabilityFlag, "", "a capability in interchange form to store as a delegate record")
	flags.StringArray(setFlag, nil, "a delegation set: comma-separated 'key[.attribute]' subjects that must all hold (repeatable, each occurrence is one alternative)")
	flags.Bool(privateFlag, false, "store the record as private, visible to the zone owner only")
	flags.Duration(expiresInFlag, 0, "how long the record stays valid (0 means it never expires)")
	registerDatastoreFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runZoneAdd(cmd *cobra.Command, _ []string) error {
	capStr := viper.GetString(capabilityFlag)
	sets := viper.GetStringSlice(setFlag)

	if (capStr == "") == (len(sets) == 0) {
		return errors.New("exactly one of --capability and --set is required")
	}

	ds, err := openDatastore()
	if err != nil {
		return err
	}
	defer ds.Close()

	ctx := cmd.Context()

	if capStr != "" {
		return addDelegateRecord(ctx, ds, capStr)
	}

	return addSetRecords(ctx, ds, sets)
}

func addDelegateRecord(ctx context.Context, ds storage.ZoneDatastore, capStr string) error {
	c, err := delegation.ParseCapability(capStr)
	if err != nil {
		return err
	}
	if !c.VerifySelf() {
		return fmt.Errorf("capability %s: signature does not verify", c.Edge())
	}

	if viper.GetString(labelFlag) != "" {
		return errors.New("delegate records live at the zone apex: --label must be empty")
	}
	if zoneStr := viper.GetString(zoneFlag); zoneStr != "" {
		zone, err := crypto.ParsePublicKey(zoneStr)
		if err != nil {
			return fmt.Errorf("parse zone key: %w", err)
		}
		if zone != c.Subject {
			return errors.New("delegate records belong to the capability subject's zone: --zone must match the subject key")
		}
	}

	return appendZoneRecords(ctx, ds, c.Subject, "", storage.Record{
		Type:    storage.RecordTypeDelegate,
		Data:    wire.CapabilityToBytes(c),
		Expiry:  c.Expiration,
		Private: viper.GetBool(privateFlag),
	})
}

func addSetRecords(ctx context.Context, ds storage.ZoneDatastore, sets []string) error {
	zone, err := crypto.ParsePublicKey(viper.GetString(zoneFlag))
	if err != nil {
		return fmt.Errorf("parse zone key: %w", err)
	}

	label, err := normalizeLabel(viper.GetString(labelFlag))
	if err != nil {
		return err
	}
	if label == "" {
		return errors.New("delegation set records need a --label")
	}

	var expiry time.Time
	if d := viper.GetDuration(expiresInFlag); d > 0 {
		expiry = time.Now().Add(d).UTC()
	}
	private := viper.GetBool(privateFlag)

	records := make([]storage.Record, 0, len(sets))
	for _, s := range sets {
		entries, err := parseSetEntries(s)
		if err != nil {
			return err
		}

		data, err := wire.MarshalSetRecord(entries)
		if err != nil {
			return err
		}

		records = append(records, storage.Record{
			Type:    storage.RecordTypeAttribute,
			Data:    data,
			Expiry:  expiry,
			Private: private,
		})
	}

	return appendZoneRecords(ctx, ds, zone, label, records...)
}

func newZoneListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List the records stored in a zone",
		RunE:         runZoneList,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(zoneFlag, flags.Lookup(zoneFlag))
			util.MustBindPFlag(pageSizeFlag, flags.Lookup(pageSizeFlag))
			bindDatastoreFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(zoneFlag, "", "(required) the public key of the zone to list")
	flags.Int32(pageSizeFlag, storage.DefaultPageSize, "how many labels to fetch per page")
	registerDatastoreFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runZoneList(cmd *cobra.Command, _ []string) error {
	zone, err := crypto.ParsePublicKey(viper.GetString(zoneFlag))
	if err != nil {
		return fmt.Errorf("parse zone key: %w", err)
	}

	ds, err := openDatastore()
	if err != nil {
		return err
	}
	defer ds.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	opts := storage.NewPaginationOptions(viper.GetInt32(pageSizeFlag), "")
	for {
		labels, token, err := ds.ListZone(ctx, zone, opts)
		if err != nil {
			return err
		}

		for _, lr := range labels {
			printLabelRecords(out, lr)
		}

		if token == "" {
			return nil
		}
		opts.From = token
	}
}

func printLabelRecords(out io.Writer, lr storage.LabelRecords) {
	label := lr.Label
	if label == "" {
		label = "(apex)"
	}
	fmt.Fprintf(out, "%s:\n", label)

	for _, rec := range lr.Records {
		fmt.Fprintf(out, "  %s", rec.Type)
		if rec.Private {
			fmt.Fprint(out, " private")
		}
		if !rec.Expiry.IsZero() {
			fmt.Fprintf(out, " expires=%s", rec.Expiry.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(out, "  %s\n", renderRecordData(rec))
	}
}

func renderRecordData(rec storage.Record) string {
	switch rec.Type {
	case storage.RecordTypeDelegate:
		c, err := wire.CapabilityFromBytes(rec.Data)
		if err != nil {
			return fmt.Sprintf("<malformed: %v>", err)
		}

		return c.String()

	case storage.RecordTypeAttribute:
		entries, err := wire.UnmarshalSetRecord(rec.Data)
		if err != nil {
			return fmt.Sprintf("<malformed: %v>", err)
		}

		return renderSetEntries(entries)

	default:
		return fmt.Sprintf("<%d bytes>", len(rec.Data))
	}
}

func renderSetEntries(entries []delegation.SetEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.SubjectAttribute.IsEmpty() {
			parts = append(parts, e.Subject.String())
		} else {
			parts = append(parts, e.Subject.String()+"."+e.SubjectAttribute.String())
		}
	}

	return strings.Join(parts, " & ")
}

func newZoneImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk-load zone records from a JSON file or URL",
		Long: `Import zone records from a JSON document, either a local file or an HTTPS
URL. The document is an array of zone entries, each with a "zone" key and a
"labels" object mapping labels to record arrays. Importing replaces the
record sets of the labels it names; labels the document does not mention are
left alone.`,
		RunE:         runZoneImport,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(fileFlag, flags.Lookup(fileFlag))
			util.MustBindPFlag(urlFlag, flags.Lookup(urlFlag))
			util.MustBindPFlag(batchSizeFlag, flags.Lookup(batchSizeFlag))
			bindDatastoreFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(fileFlag, "", "the JSON file to import records from")
	flags.String(urlFlag, "", "the URL to fetch the JSON import document from")
	flags.Int(batchSizeFlag, 4, "how many labels to write concurrently")
	registerDatastoreFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

// putJob is one (zone, label) record set waiting to be written.
type putJob struct {
	zone    crypto.PublicKey
	label   string
	records []storage.Record
}

func runZoneImport(cmd *cobra.Command, _ []string) error {
	file := viper.GetString(fileFlag)
	url := viper.GetString(urlFlag)
	if (file == "") == (url == "") {
		return errors.New("exactly one of --file and --url is required")
	}

	var (
		data []byte
		err  error
	)
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = fetchImportData(url)
	}
	if err != nil {
		return err
	}

	jobs, err := parseImportData(data)
	if err != nil {
		return err
	}

	ds, err := openDatastore()
	if err != nil {
		return err
	}
	defer ds.Close()

	p := concurrency.NewPool(cmd.Context(), viper.GetInt(batchSizeFlag))
	for _, job := range jobs {
		p.Go(func(ctx context.Context) error {
			if err := ds.PutRecords(ctx, job.zone, job.label, job.records); err != nil {
				return fmt.Errorf("put records for zone %s label %q: %w", job.zone, job.label, err)
			}

			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	total := 0
	for _, job := range jobs {
		total += len(job.records)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d records across %d labels\n", total, len(jobs))

	return nil
}

func fetchImportData(url string) ([]byte, error) {
	client := retryablehttp.NewClient()
	client.Logger = nil

	resp, err := client.StandardClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func parseImportData(data []byte) ([]putJob, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("import data is not valid JSON")
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, errors.New("import data must be a JSON array of zone entries")
	}

	var jobs []putJob
	var parseErr error

	parsed.ForEach(func(_, zoneEntry gjson.Result) bool {
		zone, err := crypto.ParsePublicKey(zoneEntry.Get("zone").String())
		if err != nil {
			parseErr = fmt.Errorf("parse zone key: %w", err)
			return false
		}

		labels := zoneEntry.Get("labels")
		if !labels.Exists() {
			parseErr = fmt.Errorf("zone %s: missing labels object", zone)
			return false
		}

		labels.ForEach(func(rawLabel, rawRecords gjson.Result) bool {
			label, err := normalizeLabel(rawLabel.String())
			if err != nil {
				parseErr = fmt.Errorf("zone %s: %w", zone, err)
				return false
			}

			records, err := parseImportRecords(zone, label, rawRecords)
			if err != nil {
				parseErr = fmt.Errorf("zone %s label %q: %w", zone, rawLabel.String(), err)
				return false
			}

			jobs = append(jobs, putJob{zone: zone, label: label, records: records})
			return true
		})

		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return jobs, nil
}

func parseImportRecords(zone crypto.PublicKey, label string, rawRecords gjson.Result) ([]storage.Record, error) {
	if !rawRecords.IsArray() {
		return nil, errors.New("records must be a JSON array")
	}

	var records []storage.Record
	var parseErr error

	rawRecords.ForEach(func(_, raw gjson.Result) bool {
		rec, err := parseImportRecord(zone, label, raw)
		if err != nil {
			parseErr = err
			return false
		}

		records = append(records, rec)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return records, nil
}

func parseImportRecord(zone crypto.PublicKey, label string, raw gjson.Result) (storage.Record, error) {
	var expiry time.Time
	if e := raw.Get("expires"); e.Exists() && e.Int() != 0 {
		expiry = time.UnixMicro(e.Int()).UTC()
	}
	private := raw.Get("private").Bool()

	switch kind := raw.Get("type").String(); kind {
	case "delegate":
		c, err := delegation.ParseCapability(raw.Get("capability").String())
		if err != nil {
			return storage.Record{}, err
		}
		if !c.VerifySelf() {
			return storage.Record{}, fmt.Errorf("capability %s: signature does not verify", c.Edge())
		}
		if label != "" {
			return storage.Record{}, errors.New("delegate records live at the zone apex")
		}
		if zone != c.Subject {
			return storage.Record{}, errors.New("delegate records belong to the capability subject's zone")
		}
		if expiry.IsZero() {
			expiry = c.Expiration
		}

		return storage.Record{
			Type:    storage.RecordTypeDelegate,
			Data:    wire.CapabilityToBytes(c),
			Expiry:  expiry,
			Private: private,
		}, nil

	case "attribute":
		entries, err := parseSetEntries(raw.Get("set").String())
		if err != nil {
			return storage.Record{}, err
		}

		data, err := wire.MarshalSetRecord(entries)
		if err != nil {
			return storage.Record{}, err
		}

		return storage.Record{
			Type:    storage.RecordTypeAttribute,
			Data:    data,
			Expiry:  expiry,
			Private: private,
		}, nil

	default:
		return storage.Record{}, fmt.Errorf("unknown record type %q", kind)
	}
}

// normalizeLabel validates and lower-cases a record label. The empty label is
// the zone apex; any other label must be a single attribute component, since
// that is what attribute lookups search by.
func normalizeLabel(label string) (string, error) {
	if label == "" {
		return "", nil
	}

	a, err := attribute.Parse(label)
	if err != nil {
		return "", fmt.Errorf("parse label: %w", err)
	}
	if !a.Rest().IsEmpty() {
		return "", fmt.Errorf("label %q must be a single attribute component", label)
	}

	return a.String(), nil
}

// parseSetEntries parses a comma-separated AND set of subject references,
// each in "key[.attribute]" form.
func parseSetEntries(s string) ([]delegation.SetEntry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("delegation set is empty")
	}

	parts := strings.Split(s, ",")
	entries := make([]delegation.SetEntry, 0, len(parts))
	for _, part := range parts {
		entry, err := parseSubjectRef(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// parseSubjectRef parses "key[.attribute]". Keys have a fixed base32 width,
// so the first '.' always terminates the key.
func parseSubjectRef(s string) (delegation.SetEntry, error) {
	keyPart := s
	var attrPart string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		keyPart, attrPart = s[:i], s[i+1:]
	}

	key, err := crypto.ParsePublicKey(keyPart)
	if err != nil {
		return delegation.SetEntry{}, fmt.Errorf("parse subject key: %w", err)
	}

	entry := delegation.SetEntry{Subject: key}
	if attrPart != "" {
		attr, err := attribute.Parse(attrPart)
		if err != nil {
			return delegation.SetEntry{}, fmt.Errorf("parse subject attribute: %w", err)
		}
		entry.SubjectAttribute = attr
	}

	return entry, nil
}

// appendZoneRecords appends records under (zone, label), preserving whatever
// is already stored there.
func appendZoneRecords(ctx context.Context, ds storage.ZoneDatastore, zone crypto.PublicKey, label string, records ...storage.Record) error {
	existing, err := ds.GetRecords(ctx, zone, label)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	return ds.PutRecords(ctx, zone, label, append(existing, records...))
}
