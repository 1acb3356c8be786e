package main

import (
	"fmt"
	"log"
	"os"

	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/spf13/cobra"
)

func CommandList(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		list := []*struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}{}
		mustGetObject("/remote/contents", nil, &list)
		if len(list) == 0 {
			fmt.Println("the H5P server reports no content (or is unreachable)")
			return
		}
		for _, elt := range list {
			fmt.Printf("%-12s %s\n", elt.ID, elt.Title)
		}
		return
	}

	contents := []*Content{}
	mustGetObject("/contents", nil, &contents)
	if len(contents) == 0 {
		fmt.Println("no content references tracked yet")
		return
	}
	for _, elt := range contents {
		title := elt.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%4d %-12s %s\n", elt.ID, elt.H5PID, title)
	}
}

func CommandGrades(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatalf("Usage: %s grades <content id>", os.Args[0])
	}
	mustLoadConfig(cmd)

	grades := []*Grade{}
	mustGetObject("/contents/"+args[0]+"/grades", nil, &grades)
	if len(grades) == 0 {
		fmt.Println("no grades recorded for this content")
		return
	}
	for _, elt := range grades {
		completed := " "
		if elt.Completed {
			completed = "*"
		}
		fmt.Printf("%s %6.1f%% %-12s %s\n", completed, elt.ScorePercent(), elt.XAPIVerb, elt.UserID)
	}
	fmt.Printf("%d grade%s (* = completed)\n", len(grades), plural(len(grades)))
}

func CommandCourses(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	courses := []*Course{}
	mustGetObject("/courses", nil, &courses)
	if len(courses) == 0 {
		fmt.Println("no courses yet")
		return
	}
	for _, course := range courses {
		fmt.Printf("%d: %s\n", course.ID, course.Title)
		activities := []*Activity{}
		mustGetObject(fmt.Sprintf("/courses/%d/activities", course.ID), nil, &activities)
		for _, elt := range activities {
			fmt.Printf("    %2d. %s\n", elt.Sequence, elt.Title)
		}
	}
}

func CommandRm(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatalf("Usage: %s rm <content id>", os.Args[0])
	}
	mustLoadConfig(cmd)

	mustDelete("/contents/" + args[0])
	fmt.Printf("deleted content reference %s\n", args[0])
}
