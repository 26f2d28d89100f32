// Package topic picks what a kickstarted conversation talks about.
//
// Selection ranks a group's known topics by the selecting agent's interest
// score and randomizes among the top-K ranks to keep consecutive kickstarts
// from repeating themselves. Groups without any topics fall back to the text
// enhancer's generation hook; a group where neither source yields a topic is
// a configuration problem surfaced as core.ErrNoTopicAvailable rather than a
// silent skip.
package topic
