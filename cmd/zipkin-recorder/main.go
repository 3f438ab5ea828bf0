// Command zipkin-recorder reads span annotations as JSON lines, aggregates
// them into spans and submits the spans to Zipkin collectors.
package main

func main() {
	Execute()
}
