package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/spf13/cobra"
)

const (
	perUserDotFile = ".h5pbridgerc"
	urlPrefix      = "/v2"
)

var Config struct {
	Host      string `json:"host"`
	apiReport bool
	apiDump   bool
}

func main() {
	log.SetFlags(0)

	cmdBridge := &cobra.Command{
		Use:   "bridgectl",
		Short: "Command-line interface to an H5P Bridge server",
	}
	cmdBridge.PersistentFlags().BoolVarP(&Config.apiReport, "api", "", false, "report all API requests")
	cmdBridge.PersistentFlags().BoolVarP(&Config.apiDump, "api-dump", "", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of bridgectl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bridgectl " + CurrentVersion.Version)
		},
	}
	cmdBridge.AddCommand(cmdVersion)

	cmdInit := &cobra.Command{
		Use:   "init <url>",
		Short: "record the address of the bridge server",
		Long: fmt.Sprintf("Give the base URL of the bridge server, e.g.:\n\n"+
			"   %s init https://bridge.example.edu\n\n"+
			"You should only need to do this once per machine.", os.Args[0]),
		Run: CommandInit,
	}
	cmdBridge.AddCommand(cmdInit)

	cmdList := &cobra.Command{
		Use:   "list",
		Short: "list tracked content references",
		Run:   CommandList,
	}
	cmdList.Flags().BoolP("remote", "r", false, "list the H5P server's content instead")
	cmdBridge.AddCommand(cmdList)

	cmdGrades := &cobra.Command{
		Use:   "grades <content id>",
		Short: "list grades recorded for a content reference",
		Run:   CommandGrades,
	}
	cmdBridge.AddCommand(cmdGrades)

	cmdCourses := &cobra.Command{
		Use:   "courses",
		Short: "list courses and their activities",
		Run:   CommandCourses,
	}
	cmdBridge.AddCommand(cmdCourses)

	cmdRm := &cobra.Command{
		Use:   "rm <content id>",
		Short: "delete a content reference and its grades",
		Run:   CommandRm,
	}
	cmdBridge.AddCommand(cmdRm)

	cmdPost := &cobra.Command{
		Use:   "post <h5p content id>",
		Short: "post a test xAPI result to the webhook",
		Long: "Build a minimal xAPI statement and deliver it to the results\n" +
			"webhook, exactly as the H5P server would. Useful for checking\n" +
			"that grade recording works end to end.",
		Run: CommandPost,
	}
	cmdPost.Flags().StringP("user", "u", "anonymous", "user ID to record the result under")
	cmdPost.Flags().Float64P("raw", "", 1, "raw score")
	cmdPost.Flags().Float64P("max", "", 1, "max score (0 means omit)")
	cmdPost.Flags().BoolP("completed", "", true, "mark the attempt completed")
	cmdPost.Flags().StringP("verb", "", "completed", "verb name")
	cmdBridge.AddCommand(cmdPost)

	cmdBridge.Execute()
}

func CommandInit(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatalf("Usage: %s init <url>", os.Args[0])
	}
	Config.Host = strings.TrimRight(args[0], "/")
	if !strings.HasPrefix(Config.Host, "http://") && !strings.HasPrefix(Config.Host, "https://") {
		Config.Host = "https://" + Config.Host
	}

	// try it out and see if the versions are compatible
	checkVersion()

	mustWriteConfig()
	fmt.Printf("using bridge server at %s\n", Config.Host)
}

func mustGetObject(path string, params url.Values, download interface{}) {
	doRequest(path, params, "GET", nil, download, false)
}

func mustPostObject(path string, params url.Values, upload interface{}, download interface{}) {
	doRequest(path, params, "POST", upload, download, false)
}

func mustDelete(path string) {
	doRequest(path, nil, "DELETE", nil, nil, false)
}

func doRequest(path string, params url.Values, method string, upload interface{}, download interface{}, notfoundokay bool) bool {
	if !strings.HasPrefix(path, "/") {
		log.Panicf("doRequest path must start with /")
	}
	if method != "GET" && method != "POST" && method != "DELETE" {
		log.Panicf("doRequest only recognizes GET, POST, and DELETE methods")
	}
	url := Config.Host + urlPrefix + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		log.Fatalf("error creating http request: %v\n", err)
	}

	// add any parameters
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	if Config.apiReport {
		fmt.Printf("%s %s\n", method, req.URL)
	}

	if download != nil {
		req.Header.Add("Accept", "application/json")
	}

	// upload the payload if any
	if upload != nil && method == "POST" {
		req.Header.Add("Content-Type", "application/json")
		payload := new(bytes.Buffer)
		if err := json.NewEncoder(payload).Encode(upload); err != nil {
			log.Fatalf("doRequest: JSON error encoding object to upload: %v", err)
		}
		if Config.apiDump {
			fmt.Printf("Request data: %s\n", payload)
		}
		req.Body = ioutil.NopCloser(payload)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("error connecting to %s: %v", Config.Host, err)
	}
	defer resp.Body.Close()
	if notfoundokay && resp.StatusCode == http.StatusNotFound {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("unexpected status from %s: %s", url, resp.Status)
		io.Copy(os.Stderr, resp.Body)
		log.Fatalf("giving up")
	}

	// parse the result if any
	if download != nil {
		if err := json.NewDecoder(resp.Body).Decode(download); err != nil {
			log.Fatalf("failed to parse result object from server: %v", err)
		}

		if Config.apiDump {
			raw, err := json.MarshalIndent(download, "", "    ")
			if err != nil {
				log.Fatalf("doRequest: JSON error encoding downloaded object: %v", err)
			}
			fmt.Printf("Response data: %s\n", raw)
		}

		return true
	}
	return false
}

func mustLoadConfig(cmd *cobra.Command) {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	configFile := filepath.Join(home, perUserDotFile)

	if raw, err := ioutil.ReadFile(configFile); err != nil {
		log.Fatalf("Unable to load config file; try running '%s init'\n", os.Args[0])
	} else if err := json.Unmarshal(raw, &Config); err != nil {
		log.Printf("failed to parse %s: %v", configFile, err)
		log.Fatalf("you may wish to try deleting the file and running '%s init' again\n", os.Args[0])
	}
	if Config.apiDump {
		Config.apiReport = true
	}

	checkVersion()
}

func mustWriteConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	configFile := filepath.Join(home, perUserDotFile)

	raw, err := json.MarshalIndent(&Config, "", "    ")
	if err != nil {
		log.Fatalf("JSON error encoding config file: %v", err)
	}
	raw = append(raw, '\n')

	if err = ioutil.WriteFile(configFile, raw, 0644); err != nil {
		log.Fatalf("error writing %s: %v", configFile, err)
	}
}

func checkVersion() {
	server := new(Version)
	mustGetObject("/version", nil, server)
	current := semver.MustParse(CurrentVersion.Version)
	required := semver.MustParse(server.BridgectlVersionRequired)
	if required.GT(current) {
		log.Printf("this is bridgectl version %s, but the server requires %s or higher", CurrentVersion.Version, server.BridgectlVersionRequired)
		log.Fatalf("  you must upgrade to continue")
	}
	recommended := semver.MustParse(server.BridgectlVersionRecommended)
	if recommended.GT(current) {
		log.Printf("this is bridgectl version %s, but the server recommends %s or higher", CurrentVersion.Version, server.BridgectlVersionRecommended)
		log.Printf("  please upgrade as soon as possible")
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
