package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/spf13/cobra"
)

// CommandPost fakes a webhook delivery so grade recording can be checked
// without a live H5P server.
func CommandPost(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatalf("Usage: %s post <h5p content id>", os.Args[0])
	}
	mustLoadConfig(cmd)

	user, _ := cmd.Flags().GetString("user")
	raw, _ := cmd.Flags().GetFloat64("raw")
	max, _ := cmd.Flags().GetFloat64("max")
	completed, _ := cmd.Flags().GetBool("completed")
	verb, _ := cmd.Flags().GetString("verb")

	score := map[string]interface{}{"raw": raw}
	if max != 0 {
		score["max"] = max
	}
	statement := map[string]interface{}{
		"verb": map[string]interface{}{
			"id": "http://adlnet.gov/expapi/verbs/" + verb,
		},
		"result": map[string]interface{}{
			"score":      score,
			"completion": completed,
		},
	}
	rawStatement, err := json.Marshal(statement)
	if err != nil {
		log.Fatalf("encoding statement: %v", err)
	}

	payload := &ResultPayload{
		ContentID: args[0],
		UserID:    user,
		Statement: rawStatement,
	}
	reply := map[string]interface{}{}
	mustPostObject("/results", nil, payload, &reply)

	switch reply["status"] {
	case "saved":
		fmt.Printf("saved: score %v, verb %v\n", reply["score"], reply["verb"])
	case "ignored":
		fmt.Printf("ignored: %v\n", reply["reason"])
	default:
		fmt.Printf("unexpected reply: %v\n", reply)
	}
}
